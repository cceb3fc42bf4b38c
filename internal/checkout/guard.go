package checkout

import (
	"strings"

	domain "github.com/tealshop/storefront/internal/domain"
)

// Step is a checkout state. Steps are strictly ordered.
type Step int

const (
	StepCart Step = iota
	StepShipping
	StepPayment
	StepPlaceOrder
	StepOrder
)

var stepPaths = map[Step]string{
	StepCart:       "/cart",
	StepShipping:   "/shipping",
	StepPayment:    "/payment",
	StepPlaceOrder: "/placeorder",
	StepOrder:      "/order",
}

// String implements fmt.Stringer.
func (s Step) String() string {
	switch s {
	case StepCart:
		return "cart"
	case StepShipping:
		return "shipping"
	case StepPayment:
		return "payment"
	case StepPlaceOrder:
		return "placeorder"
	case StepOrder:
		return "order"
	default:
		return "unknown"
	}
}

// Path returns the route serving the step.
func (s Step) Path() string {
	return stepPaths[s]
}

// RequiresAuth reports whether the step is only reachable with a session.
func (s Step) RequiresAuth() bool {
	return s == StepPlaceOrder || s == StepOrder
}

// State is everything the guard needs to decide an entry.
type State struct {
	Cart          domain.Cart
	Authenticated bool
	// OrderID is set only once a placement has succeeded.
	OrderID string
}

// Decision is the outcome of entering a step.
type Decision struct {
	Step     Step
	Allowed  bool
	Redirect string
	Err      error
}

// Guard evaluates step entry. It is stateless and safe to share.
type Guard struct {
	loginPath string
}

// NewGuard builds a guard redirecting unauthenticated visitors to loginPath.
func NewGuard(loginPath string) Guard {
	loginPath = strings.TrimSpace(loginPath)
	if loginPath == "" {
		loginPath = "/login"
	}
	return Guard{loginPath: loginPath}
}

// Enter decides whether target may be shown for state. target is the URL the visitor asked for
// and is carried through the login redirect. Guards run on every entry, reloads included.
func (g Guard) Enter(step Step, state State, target string) Decision {
	if step.RequiresAuth() && !state.Authenticated {
		if strings.TrimSpace(target) == "" {
			target = step.Path()
		}
		authErr := &domain.AuthRequiredError{Redirect: target}
		return Decision{Step: step, Redirect: authErr.LoginURL(g.loginPath), Err: authErr}
	}

	switch step {
	case StepPayment:
		if state.Cart.ShippingAddress == nil {
			return redirect(step, StepShipping)
		}
	case StepPlaceOrder:
		if state.Cart.ShippingAddress == nil {
			return redirect(step, StepShipping)
		}
		if state.Cart.PaymentMethod == "" {
			return redirect(step, StepPayment)
		}
	case StepOrder:
		if strings.TrimSpace(state.OrderID) == "" {
			return redirect(step, StepPlaceOrder)
		}
		return Decision{Step: step, Allowed: true, Redirect: StepOrder.Path() + "/" + state.OrderID}
	}
	return Decision{Step: step, Allowed: true}
}

func redirect(from, to Step) Decision {
	return Decision{Step: from, Redirect: to.Path()}
}

var wizardLabels = []string{"Shipping Address", "Payment Method", "Place Order"}

// WizardStep is one entry of the checkout progress indicator.
type WizardStep struct {
	Index     int    `json:"index"`
	Label     string `json:"label"`
	Completed bool   `json:"completed"`
	Active    bool   `json:"active"`
}

// Wizard returns the progress indicator with every step up to active highlighted.
func Wizard(active int) []WizardStep {
	steps := make([]WizardStep, len(wizardLabels))
	for i, label := range wizardLabels {
		steps[i] = WizardStep{
			Index:     i,
			Label:     label,
			Completed: i < active,
			Active:    i == active,
		}
	}
	return steps
}

// WizardIndex maps a checkout step to its progress indicator position, or -1.
func WizardIndex(step Step) int {
	switch step {
	case StepShipping:
		return 0
	case StepPayment:
		return 1
	case StepPlaceOrder:
		return 2
	default:
		return -1
	}
}
