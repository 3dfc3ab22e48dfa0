package dom

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/domotruc/jmqtt-test/pkg/channel"
	"github.com/domotruc/jmqtt-test/pkg/model"
)

// Locations of the plugin page elements.
const (
	// CardXPath selects every equipment card of the plugin page.
	CardXPath = "//div[contains(@class,'eqLogicDisplayCard')]"

	// CardNameXPath selects the name of a card, relative to the card.
	CardNameXPath = ".//center//strong"

	// CmdRowXPath selects the rows of the command table of the open
	// equipment.
	CmdRowXPath = "//table[@id='table_cmd']/tbody/tr"

	// CmdNameXPath selects the name input of a command row, relative to
	// the row.
	CmdNameXPath = ".//input[@data-l1key='name']"
)

// Card attributes. The class of a card carries the "auto" token when the
// equipment adds its commands automatically; broker cards carry their
// daemon state in data-state.
const (
	AttrEqLogicID = "data-eqlogic_id"
	AttrBrkID     = "data-brkid"
	AttrState     = "data-state"
	ClassAuto     = "auto"
)

// Adapter reads the card and command projections of the plugin page.
type Adapter struct {
	page Page
}

// NewAdapter creates an Adapter over page.
func NewAdapter(page Page) *Adapter {
	return &Adapter{page: page}
}

// Name returns channel.DOM.
func (a *Adapter) Name() channel.ID { return channel.DOM }

type card struct {
	model.Card
	id, brkID string
}

// Cards returns the cards of the equipment attached to the broker with id
// brkID, broker card first then by natural name order. An empty brkID
// returns the cards of every broker.
func (a *Adapter) Cards(ctx context.Context, brkID string) ([]model.Card, error) {
	elems, err := a.page.FindAll(ctx, CardXPath)
	if err != nil {
		return nil, err
	}
	cards := make([]card, 0, len(elems))
	for _, el := range elems {
		c, err := readCard(ctx, el)
		if err != nil {
			return nil, err
		}
		if brkID != "" && c.brkID != brkID {
			continue
		}
		cards = append(cards, c)
	}

	sort.SliceStable(cards, func(i, j int) bool {
		bi, bj := cards[i].id == cards[i].brkID, cards[j].id == cards[j].brkID
		if bi != bj {
			return bi
		}
		return model.CompareNatural(cards[i].Name, cards[j].Name) < 0
	})

	out := make([]model.Card, len(cards))
	for i, c := range cards {
		out[i] = c.Card
	}
	return out, nil
}

func readCard(ctx context.Context, el Element) (card, error) {
	var c card
	var err error
	if c.id, err = el.Attr(ctx, AttrEqLogicID); err != nil {
		return c, err
	}
	if c.brkID, err = el.Attr(ctx, AttrBrkID); err != nil {
		return c, err
	}
	class, err := el.Attr(ctx, "class")
	if err != nil {
		return c, err
	}
	c.AutoAddCmd = hasClass(class, ClassAuto)

	names, err := el.FindAll(ctx, CardNameXPath)
	if err != nil {
		return c, err
	}
	if len(names) != 1 {
		return c, fmt.Errorf("dom: card %s: %d name elements", c.id, len(names))
	}
	if c.Name, err = names[0].Text(ctx); err != nil {
		return c, err
	}

	if c.id == c.brkID {
		state, err := el.Attr(ctx, AttrState)
		if err != nil {
			return c, err
		}
		c.State = model.DaemonState(state)
	}
	return c, nil
}

// CommandNames returns the names of the command table rows, in display
// order.
func (a *Adapter) CommandNames(ctx context.Context) ([]string, error) {
	rows, err := a.page.FindAll(ctx, CmdRowXPath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for i, row := range rows {
		inputs, err := row.FindAll(ctx, CmdNameXPath)
		if err != nil {
			return nil, err
		}
		if len(inputs) == 0 {
			return nil, fmt.Errorf("dom: command row %d has no name", i)
		}
		name, err := inputs[0].Attr(ctx, "value")
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func hasClass(class, token string) bool {
	for _, f := range strings.Fields(class) {
		if f == token {
			return true
		}
	}
	return false
}
