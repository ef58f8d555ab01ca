package webhook

import "strings"

// CheckoutSession is a minimal representation of a Stripe checkout.session event.
type CheckoutSession struct {
	ID              string `json:"id"`
	Mode            string `json:"mode"`
	Customer        string `json:"customer"`
	PaymentStatus   string `json:"payment_status"`
	CustomerEmail   string `json:"customer_email"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
	LineItems struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"line_items"`
	Metadata map[string]string `json:"metadata"`
}

// PriceIDs returns the price ids embedded in the event, falling back to a
// price_id metadata tag.
func (s *CheckoutSession) PriceIDs() []string {
	var ids []string
	for _, item := range s.LineItems.Data {
		if priceID := strings.TrimSpace(item.Price.ID); priceID != "" {
			ids = append(ids, priceID)
		}
	}
	if len(ids) == 0 {
		if priceID := strings.TrimSpace(s.Metadata["price_id"]); priceID != "" {
			ids = append(ids, priceID)
		}
	}
	return ids
}

// Subscription is a minimal representation of a Stripe subscription event.
type Subscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	Items    struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

// PriceIDs returns the price ids of every subscription item.
func (s *Subscription) PriceIDs() []string {
	var ids []string
	for _, item := range s.Items.Data {
		if priceID := strings.TrimSpace(item.Price.ID); priceID != "" {
			ids = append(ids, priceID)
		}
	}
	return ids
}

// IsSafeStripeID validates that a Stripe ID (cus_..., sub_...) is safe for
// use as a lookup key.
func IsSafeStripeID(stripeID string) bool {
	if len(stripeID) < 5 || len(stripeID) > 128 {
		return false
	}
	for i := 0; i < len(stripeID); i++ {
		c := stripeID[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
