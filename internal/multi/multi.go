// Package multi fans a prototype order out to several broker accounts,
// scaling the quantity per account.
package multi

import (
	"context"
	"strconv"

	"github.com/uberdeveloper/omspy/internal/broker"
	"github.com/uberdeveloper/omspy/internal/order"
)

// User is one account taking part in fan-out placement. Scale multiplies
// the prototype quantity for this account; zero or negative means one.
type User struct {
	Broker   broker.Broker
	Scale    float64
	Name     string
	ClientID string
}

// key is the label this account's results are reported under.
func (u User) key(idx int) string {
	if u.Name != "" {
		return u.Name
	}
	if u.ClientID != "" {
		return u.ClientID
	}
	return strconv.Itoa(idx)
}

func (u User) scale() float64 {
	if u.Scale <= 0 {
		return 1
	}
	return u.Scale
}

// MultiUser places one prototype order across many accounts. Each account
// receives its own clone with the quantity scaled down to a whole number,
// so the clones stay independently modifiable afterwards.
type MultiUser struct {
	users  []User
	orders map[string][]*order.Order
}

// New builds a fan-out placer over the given accounts.
func New(users ...User) *MultiUser {
	return &MultiUser{
		users:  users,
		orders: make(map[string][]*order.Order),
	}
}

// Add registers another account.
func (m *MultiUser) Add(u User) {
	m.users = append(m.users, u)
}

// Users returns the registered accounts.
func (m *MultiUser) Users() []User {
	out := make([]User, len(m.users))
	copy(out, m.users)
	return out
}

// Count returns the number of registered accounts.
func (m *MultiUser) Count() int {
	return len(m.users)
}

// Orders returns the per-account clones created for a prototype order id,
// in account order.
func (m *MultiUser) Orders(id string) []*order.Order {
	clones := m.orders[id]
	out := make([]*order.Order, len(clones))
	copy(out, clones)
	return out
}

// OrderPlace clones the prototype for every account, scales the quantity
// by the account's multiplier truncated to a whole number, and places each
// clone on the account's broker. Results are keyed by account name, client
// id or index; one account's failure does not stop the rest. The prototype
// itself is never placed and keeps pointing at its clones via their parent
// ids.
func (m *MultiUser) OrderPlace(ctx context.Context, o *order.Order, extras ...map[string]any) map[string]error {
	results := make(map[string]error, len(m.users))
	if o == nil {
		return results
	}
	m.orders[o.ID] = nil
	for idx, u := range m.users {
		clone := o.Clone()
		clone.Quantity = float64(int(u.scale() * o.Quantity))
		clone.PendingQuantity = clone.Quantity
		clone.Broker = u.Broker
		m.orders[o.ID] = append(m.orders[o.ID], clone)
		_, err := clone.Execute(ctx, u.Broker, extras...)
		results[u.key(idx)] = err
	}
	return results
}
