package refstore

import (
	"fmt"
	"strconv"

	"github.com/domotruc/jmqtt-test/pkg/model"
)

// OrderSource yields the order of the i-th command of a list.
type OrderSource interface {
	order(i int) (string, error)
}

type sequential struct{}

func (sequential) order(i int) (string, error) { return strconv.Itoa(i), nil }

// Sequential numbers commands by their position.
func Sequential() OrderSource { return sequential{} }

type fixed string

func (f fixed) order(int) (string, error) { return string(f), nil }

// Fixed gives every command the same order.
func Fixed(order string) OrderSource { return fixed(order) }

type copied []*model.Command

func (c copied) order(i int) (string, error) {
	if i >= len(c) {
		return "", fmt.Errorf("no reference order for command %d (have %d)", i, len(c))
	}
	return c[i].Order, nil
}

// CopyFrom takes the orders of ref position by position, typically the
// commands read back from the live system.
func CopyFrom(ref []*model.Command) OrderSource { return copied(ref) }

func applyOrders(cmds []*model.Command, src OrderSource) error {
	for i, c := range cmds {
		o, err := src.order(i)
		if err != nil {
			return err
		}
		c.Order = o
	}
	return nil
}
