package web

import (
	"time"

	"github.com/tealshop/storefront/internal/checkout"
	domain "github.com/tealshop/storefront/internal/domain"
)

type productView struct {
	ID           string  `json:"_id"`
	Name         string  `json:"name"`
	Slug         string  `json:"slug"`
	Category     string  `json:"category"`
	Brand        string  `json:"brand"`
	Image        string  `json:"image"`
	Price        float64 `json:"price"`
	PriceDisplay string  `json:"priceDisplay"`
	Stock        int     `json:"stock"`
	InStock      bool    `json:"inStock"`
	Status       string  `json:"status"`
	Rating       float64 `json:"rating"`
	NumReviews   int     `json:"numReviews"`
	Description  string  `json:"description,omitempty"`
}

type productListView struct {
	Items         []productView `json:"items"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}

type cartLineView struct {
	ProductID        string  `json:"productId"`
	Slug             string  `json:"slug"`
	Name             string  `json:"name"`
	Image            string  `json:"image,omitempty"`
	Price            float64 `json:"price"`
	PriceDisplay     string  `json:"priceDisplay"`
	Quantity         int     `json:"quantity"`
	MaxQuantity      int     `json:"maxQuantity"`
	LineTotalDisplay string  `json:"lineTotalDisplay"`
}

type cartView struct {
	Items           []cartLineView `json:"cartItems"`
	Quantity        int            `json:"quantity"`
	Subtotal        float64        `json:"subtotal"`
	SubtotalDisplay string         `json:"subtotalDisplay"`
	Empty           bool           `json:"empty"`
	CheckoutURL     string         `json:"checkoutUrl"`
}

type breakdownView struct {
	ItemsPrice    string `json:"itemsPrice"`
	ShippingPrice string `json:"shippingPrice"`
	TaxPrice      string `json:"taxPrice"`
	TotalPrice    string `json:"totalPrice"`
}

type shippingView struct {
	Step        string                `json:"step"`
	Wizard      []checkout.WizardStep `json:"wizard"`
	Address     domain.Address        `json:"shippingAddress"`
	FieldErrors map[string]string     `json:"fieldErrors,omitempty"`
}

type paymentView struct {
	Step        string                 `json:"step"`
	Wizard      []checkout.WizardStep  `json:"wizard"`
	Methods     []domain.PaymentMethod `json:"methods"`
	Selected    domain.PaymentMethod   `json:"paymentMethod,omitempty"`
	FieldErrors map[string]string      `json:"fieldErrors,omitempty"`
}

type placeOrderView struct {
	Step            string                `json:"step"`
	Wizard          []checkout.WizardStep `json:"wizard"`
	Items           []cartLineView        `json:"orderItems"`
	Empty           bool                  `json:"empty"`
	ShippingAddress *domain.Address       `json:"shippingAddress"`
	PaymentMethod   domain.PaymentMethod  `json:"paymentMethod"`
	Summary         breakdownView         `json:"summary"`
}

type orderView struct {
	ID              string               `json:"_id"`
	Items           []cartLineView       `json:"orderItems"`
	ShippingAddress domain.Address       `json:"shippingAddress"`
	PaymentMethod   domain.PaymentMethod `json:"paymentMethod"`
	Summary         breakdownView        `json:"summary"`
	PaidStatus      string               `json:"paidStatus"`
	DeliveryStatus  string               `json:"deliveryStatus"`
	IsPaid          bool                 `json:"isPaid"`
	IsDelivered     bool                 `json:"isDelivered"`
	CanPay          bool                 `json:"canPay"`
	PaymentError    string               `json:"paymentError,omitempty"`
	CreatedAt       string               `json:"createdAt,omitempty"`
}

func (s *Server) productView(p domain.Product) productView {
	status := "Unavailable"
	if p.InStock() {
		status = "In stock"
	}
	return productView{
		ID:           p.ID,
		Name:         p.Name,
		Slug:         p.Slug,
		Category:     p.Category,
		Brand:        p.Brand,
		Image:        p.Image,
		Price:        p.Price,
		PriceDisplay: s.money.Format(p.Price),
		Stock:        p.Stock,
		InStock:      p.InStock(),
		Status:       status,
		Rating:       p.Rating,
		NumReviews:   p.NumReviews,
		Description:  p.Description,
	}
}

func (s *Server) lineViews(items []domain.LineItem) []cartLineView {
	out := make([]cartLineView, 0, len(items))
	for _, item := range items {
		out = append(out, cartLineView{
			ProductID:        item.ProductID,
			Slug:             item.Slug,
			Name:             item.Name,
			Image:            item.Image,
			Price:            item.Price,
			PriceDisplay:     s.money.Format(item.Price),
			Quantity:         item.Quantity,
			MaxQuantity:      item.Stock,
			LineTotalDisplay: s.money.Format(float64(item.Quantity) * item.Price),
		})
	}
	return out
}

func (s *Server) cartView(c domain.Cart, authenticated bool) cartView {
	quantity := 0
	var subtotal float64
	for _, item := range c.Items {
		quantity += item.Quantity
		subtotal += float64(item.Quantity) * item.Price
	}
	subtotal = domain.Round2(subtotal)

	checkoutURL := checkout.StepShipping.Path()
	if !authenticated {
		checkoutURL = (&domain.AuthRequiredError{Redirect: checkoutURL}).LoginURL(s.loginPath)
	}
	return cartView{
		Items:           s.lineViews(c.Items),
		Quantity:        quantity,
		Subtotal:        subtotal,
		SubtotalDisplay: s.money.Format(subtotal),
		Empty:           len(c.Items) == 0,
		CheckoutURL:     checkoutURL,
	}
}

func (s *Server) breakdownView(b domain.PriceBreakdown) breakdownView {
	return breakdownView{
		ItemsPrice:    s.money.Format(b.ItemsPrice),
		ShippingPrice: s.money.Format(b.ShippingPrice),
		TaxPrice:      s.money.Format(b.TaxPrice),
		TotalPrice:    s.money.Format(b.TotalPrice),
	}
}

func (s *Server) orderView(o domain.Order) orderView {
	lines := make([]domain.LineItem, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, domain.LineItem{
			ProductID: item.ProductID,
			Slug:      item.Slug,
			Name:      item.Name,
			Image:     item.Image,
			Price:     item.Price,
			Quantity:  item.Quantity,
		})
	}
	view := orderView{
		ID:              o.ID,
		Items:           s.lineViews(lines),
		ShippingAddress: o.ShippingAddress,
		PaymentMethod:   o.PaymentMethod,
		Summary:         s.breakdownView(o.Breakdown()),
		PaidStatus:      "Not paid",
		DeliveryStatus:  "Not delivered",
		IsPaid:          o.IsPaid,
		IsDelivered:     o.IsDelivered,
		CanPay:          !o.IsPaid && o.PaymentMethod == domain.PaymentMethodStripe,
	}
	if o.IsPaid && o.PaidAt != nil {
		view.PaidStatus = "Paid at " + o.PaidAt.UTC().Format(time.RFC3339)
	}
	if o.IsDelivered && o.DeliveredAt != nil {
		view.DeliveryStatus = "Delivered at " + o.DeliveredAt.UTC().Format(time.RFC3339)
	}
	if !o.CreatedAt.IsZero() {
		view.CreatedAt = o.CreatedAt.UTC().Format(time.RFC3339)
	}
	return view
}
