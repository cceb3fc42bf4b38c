package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the client omits pageSize.
	DefaultPageSize = 24
	// DefaultMaxPageSize caps pageSize.
	DefaultMaxPageSize = 100
)

// Order is a single sort clause.
type Order struct {
	Field string
	Desc  bool
}

// Cursor is the Firestore cursor carried inside a page token.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
}

// Params are the listing parameters parsed from a query string.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Order     *Order
}

// Options control Parse.
type Options struct {
	DefaultPageSize    int
	MaxPageSize        int
	AllowedOrderFields []string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidOrderBy   = errors.New("pagination: invalid orderBy")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Parse reads pageSize, pageToken and orderBy ("price" or "price desc").
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}
	size, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: size}

	if raw := strings.TrimSpace(values.Get("pageToken")); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}

	if raw := strings.TrimSpace(values.Get("orderBy")); raw != "" {
		order, err := parseOrder(raw, opts.AllowedOrderFields)
		if err != nil {
			return Params{}, err
		}
		params.Order = &order
	}
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	def := opts.DefaultPageSize
	if def <= 0 {
		def = DefaultPageSize
	}
	limit := opts.MaxPageSize
	if limit <= 0 {
		limit = DefaultMaxPageSize
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return min(def, limit), nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
	}
	return min(size, limit), nil
}

func parseOrder(raw string, allowed []string) (Order, error) {
	parts := strings.Fields(raw)
	if len(parts) == 0 || len(parts) > 2 {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidOrderBy, raw)
	}
	order := Order{Field: parts[0]}
	if len(parts) == 2 {
		switch strings.ToLower(parts[1]) {
		case "asc":
		case "desc":
			order.Desc = true
		default:
			return Order{}, fmt.Errorf("%w: %q", ErrInvalidOrderBy, raw)
		}
	}
	for _, field := range allowed {
		if field == order.Field {
			return order, nil
		}
	}
	return Order{}, fmt.Errorf("%w: field %q is not sortable", ErrInvalidOrderBy, order.Field)
}
