package model

import (
	"sort"
	"strconv"
)

// CmdType is the direction of a command.
type CmdType string

const (
	CmdInfo   CmdType = "info"
	CmdAction CmdType = "action"
)

// Common command subtypes.
const (
	SubTypeString  = "string"
	SubTypeOther   = "other"
	SubTypeSlider  = "slider"
	SubTypeMessage = "message"
	SubTypeBinary  = "binary"
	SubTypeNumeric = "numeric"
)

// NoJSONParent is the jParent and jOrder value of a command that is not a
// JSON child of another command.
const NoJSONParent = -1

// CmdConfig is the configuration map of a command.
type CmdConfig struct {
	Topic string `json:"topic"`

	// Info commands only.
	ParseJSON *string `json:"parseJson,omitempty"`
	JParent   *int    `json:"jParent,omitempty"`
	JOrder    *int    `json:"jOrder,omitempty"`

	// Action commands only.
	Request *string `json:"request,omitempty"`
	Retain  *string `json:"retain,omitempty"`
}

// Command is an info or action command of an equipment.
type Command struct {
	ID            string    `json:"id"`
	LogicalID     string    `json:"logicalId"`
	EqType        string    `json:"eqType"`
	Name          string    `json:"name"`
	Order         string    `json:"order"`
	Type          CmdType   `json:"type"`
	SubType       string    `json:"subType"`
	EqLogicID     string    `json:"eqLogic_id"`
	IsHistorized  string    `json:"isHistorized"`
	Unit          string    `json:"unite"`
	IsVisible     string    `json:"isVisible"`
	Configuration CmdConfig `json:"configuration"`

	// Display is the UI-only value field: null for info commands, empty for
	// action commands.
	Display *string `json:"value"`

	CurrentValue Scalar `json:"currentValue"`
}

// NewCommand builds a command from the command template.
func NewCommand(name, topic string, typ CmdType, subtype string, value any) *Command {
	c := &Command{}
	mustLoadTemplate(cmdTemplate, c)
	c.Type = typ
	c.SubType = subtype
	switch typ {
	case CmdInfo:
		parse, parent, order := "0", NoJSONParent, NoJSONParent
		c.Configuration.ParseJSON = &parse
		c.Configuration.JParent = &parent
		c.Configuration.JOrder = &order
	case CmdAction:
		req, retain := "", "0"
		c.Configuration.Request = &req
		c.Configuration.Retain = &retain
	}
	c.Update(name, topic, value)
	return c
}

// Update rewrites the name, topic and current value of the command and
// resets its display field.
func (c *Command) Update(name, topic string, value any) {
	c.Name = name
	c.LogicalID = topic
	c.Configuration.Topic = topic
	c.CurrentValue = NormalizeValue(value)
	if c.Type == CmdInfo {
		c.Display = nil
	} else {
		empty := ""
		c.Display = &empty
	}
}

// SetIDIfEmpty binds the command id unless it is already known.
func (c *Command) SetIDIfEmpty(id string) {
	if c.ID == "" {
		c.ID = id
	}
}

// OrderValue returns the numeric order of the command. Unparsable orders
// count as zero.
func (c *Command) OrderValue() int {
	n, _ := strconv.Atoi(c.Order)
	return n
}

// SetJSONParent attaches the command under parent in the JSON tree.
// parentID is NoJSONParent to detach it.
func (c *Command) SetJSONParent(parentID, order int) {
	c.Configuration.JParent = &parentID
	c.Configuration.JOrder = &order
}

// Clone returns a deep copy of the command.
func (c *Command) Clone() *Command {
	cp := *c
	cp.Configuration.ParseJSON = clonePtr(c.Configuration.ParseJSON)
	cp.Configuration.JParent = clonePtr(c.Configuration.JParent)
	cp.Configuration.JOrder = clonePtr(c.Configuration.JOrder)
	cp.Configuration.Request = clonePtr(c.Configuration.Request)
	cp.Configuration.Retain = clonePtr(c.Configuration.Retain)
	cp.Display = clonePtr(c.Display)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CompareCommands orders commands the way cmd::byEqLogicId returns them:
// by numeric order, then case-insensitive name.
func CompareCommands(a, b *Command) int {
	if oa, ob := a.OrderValue(), b.OrderValue(); oa != ob {
		if oa < ob {
			return -1
		}
		return 1
	}
	return CompareFold(a.Name, b.Name)
}

// SortCommands sorts cmds in place with CompareCommands. The sort is stable.
func SortCommands(cmds []*Command) {
	sort.SliceStable(cmds, func(i, j int) bool {
		return CompareCommands(cmds[i], cmds[j]) < 0
	})
}

// CommandByName returns the command with the given name, or nil.
func CommandByName(cmds []*Command, name string) *Command {
	for _, c := range cmds {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// CommandByTopic returns the command subscribed to topic, or nil.
func CommandByTopic(cmds []*Command, topic string) *Command {
	for _, c := range cmds {
		if c.Configuration.Topic == topic {
			return c
		}
	}
	return nil
}
