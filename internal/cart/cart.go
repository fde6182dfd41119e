package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-checkout-saga/internal/apperr"
	"github.com/ariefcatur/go-checkout-saga/internal/catalog"
	"github.com/ariefcatur/go-checkout-saga/internal/logging"
	"github.com/ariefcatur/go-checkout-saga/internal/money"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
)

const maxWatchRetries = 5

// Line prices are catalog lira, as the shop frontend reads them.
type Line struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image,omitempty"`
	Quantity  int             `json:"quantity"`
	AddedAt   time.Time       `json:"addedAt"`
}

type View struct {
	Items          []Line          `json:"items"`
	ItemCount      int             `json:"itemCount"`
	Total          decimal.Decimal `json:"total"`
	FormattedTotal string          `json:"formattedTotal"`
}

func viewOf(lines []Line) View {
	v := View{Items: lines}
	if v.Items == nil {
		v.Items = []Line{}
	}
	for _, l := range lines {
		v.ItemCount += l.Quantity
		v.Total = v.Total.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	v.FormattedTotal = money.Format(money.FromLira(v.Total))
	return v
}

// Service keeps one JSON cart per user under cart:user_{id}. Every write refreshes the TTL.
type Service struct {
	rdb     *redis.Client
	catalog catalog.Lookup
	ttl     time.Duration
	now     func() time.Time
}

func NewService(rdb *redis.Client, lookup catalog.Lookup, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = redisx.TTLCart
	}
	return &Service{rdb: rdb, catalog: lookup, ttl: ttl, now: time.Now}
}

func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	lines, err := load(ctx, s.rdb, redisx.Cart(userID))
	if err != nil {
		return View{}, apperr.Internal("read cart", err)
	}
	return viewOf(lines), nil
}

// Add puts quantity of a product in the cart, refreshing name and price from the catalog.
func (s *Service) Add(ctx context.Context, userID, productID string, quantity int) (View, error) {
	if productID == "" {
		return View{}, apperr.Validation("productId is required")
	}
	if quantity <= 0 {
		return View{}, apperr.Validation("quantity must be positive")
	}
	p, err := s.product(ctx, productID)
	if err != nil {
		return View{}, err
	}
	if p.Stock < quantity {
		return View{}, apperr.WithMessage(apperr.ErrInsufficientStock, fmt.Sprintf("insufficient stock, available: %d", p.Stock))
	}

	return s.update(ctx, userID, func(lines []Line) ([]Line, error) {
		i := slices.IndexFunc(lines, func(l Line) bool { return l.ProductID == productID })
		if i < 0 {
			return append(lines, Line{
				ProductID: productID,
				Name:      p.Name,
				Price:     p.Price,
				Image:     p.Image(),
				Quantity:  quantity,
				AddedAt:   s.now().UTC(),
			}), nil
		}
		next := lines[i].Quantity + quantity
		if next > p.Stock {
			return nil, apperr.WithMessage(apperr.ErrInsufficientStock, fmt.Sprintf("maximum stock: %d", p.Stock))
		}
		lines[i].Quantity = next
		lines[i].Price = p.Price
		return lines, nil
	})
}

// SetQuantity replaces the quantity of a line already in the cart.
func (s *Service) SetQuantity(ctx context.Context, userID, productID string, quantity int) (View, error) {
	if quantity <= 0 {
		return View{}, apperr.Validation("quantity must be positive")
	}
	p, err := s.product(ctx, productID)
	if err != nil {
		return View{}, err
	}
	if p.Stock < quantity {
		return View{}, apperr.WithMessage(apperr.ErrInsufficientStock, fmt.Sprintf("insufficient stock, available: %d", p.Stock))
	}
	return s.update(ctx, userID, func(lines []Line) ([]Line, error) {
		i := slices.IndexFunc(lines, func(l Line) bool { return l.ProductID == productID })
		if i < 0 {
			return nil, apperr.NotFound("product is not in the cart")
		}
		lines[i].Quantity = quantity
		lines[i].Price = p.Price
		return lines, nil
	})
}

func (s *Service) Remove(ctx context.Context, userID, productID string) (View, error) {
	return s.update(ctx, userID, func(lines []Line) ([]Line, error) {
		if len(lines) == 0 {
			return nil, apperr.WithMessage(apperr.ErrEmptyCart, "cart is empty")
		}
		out := slices.DeleteFunc(lines, func(l Line) bool { return l.ProductID == productID })
		if len(out) == len(lines) {
			return nil, apperr.NotFound("product is not in the cart")
		}
		return out, nil
	})
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, redisx.Cart(userID)).Err(); err != nil {
		return apperr.Internal("clear cart", err)
	}
	logging.FromContext(ctx).Info("cart cleared", zap.String("user_id", userID))
	return nil
}

func (s *Service) product(ctx context.Context, id string) (catalog.Product, error) {
	p, err := s.catalog.Product(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return catalog.Product{}, apperr.WithMessage(apperr.ErrProductNotFound, "product not found: "+id)
		}
		return catalog.Product{}, err
	}
	return p, nil
}

// update runs fn inside WATCH/MULTI so concurrent writers to one cart do not lose lines.
func (s *Service) update(ctx context.Context, userID string, fn func([]Line) ([]Line, error)) (View, error) {
	key := redisx.Cart(userID)
	var result []Line
	txf := func(tx *redis.Tx) error {
		lines, err := load(ctx, tx, key)
		if err != nil {
			return err
		}
		next, err := fn(lines)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if len(next) == 0 {
				p.Del(ctx, key)
				return nil
			}
			b, err := json.Marshal(next)
			if err != nil {
				return err
			}
			p.Set(ctx, key, b, s.ttl)
			return nil
		})
		if err == nil {
			result = next
		}
		return err
	}

	for range maxWatchRetries {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if _, ok := apperr.As(err); ok {
				return View{}, err
			}
			return View{}, apperr.Internal("write cart", err)
		}
		return viewOf(result), nil
	}
	return View{}, apperr.WithMessage(apperr.ErrVersionConflict, "cart changed concurrently, try again")
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, rdb getter, key string) ([]Line, error) {
	raw, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var lines []Line
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", key, err)
	}
	return lines, nil
}
