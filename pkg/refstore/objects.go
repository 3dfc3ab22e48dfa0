package refstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/domotruc/jmqtt-test/pkg/model"
)

// ObjectSource lists the Jeedom objects (rooms, groups) of the live system.
type ObjectSource interface {
	FetchObjects(ctx context.Context) ([]model.Doc, error)
}

// Objects caches the Jeedom object list. It is refreshed on a cache miss.
type Objects struct {
	src    ObjectSource
	byID   map[string]model.Doc
	byName map[string]string
}

// NewObjects creates an object cache over src. src may be nil, in which
// case every lookup fails.
func NewObjects(src ObjectSource) *Objects {
	return &Objects{src: src}
}

// Refresh reloads the object list.
func (o *Objects) Refresh(ctx context.Context) error {
	if o.src == nil {
		return errors.New("no object source configured")
	}
	objs, err := o.src.FetchObjects(ctx)
	if err != nil {
		return fmt.Errorf("fetch objects: %w", err)
	}
	o.byID = make(map[string]model.Doc, len(objs))
	o.byName = make(map[string]string, len(objs))
	for _, obj := range objs {
		id := obj.Str("id")
		o.byID[id] = obj
		o.byName[obj.Str("name")] = id
	}
	return nil
}

// ByID returns the object with the given id.
func (o *Objects) ByID(ctx context.Context, id string) (model.Doc, error) {
	if obj, ok := o.byID[id]; ok {
		return obj, nil
	}
	if err := o.Refresh(ctx); err != nil {
		return nil, err
	}
	if obj, ok := o.byID[id]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("object id %s: %w", id, ErrNotFound)
}

// IDByName returns the id of the named object.
func (o *Objects) IDByName(ctx context.Context, name string) (string, error) {
	if id, ok := o.byName[name]; ok {
		return id, nil
	}
	if err := o.Refresh(ctx); err != nil {
		return "", err
	}
	if id, ok := o.byName[name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("object %s: %w", name, ErrNotFound)
}

// AddEquipmentInObject is AddEquipment with the object given by name.
func (s *Store) AddEquipmentInObject(ctx context.Context, broker, name, object string, enabled, autoTopic bool) (*model.Equipment, error) {
	id, err := s.objects.IDByName(ctx, object)
	if err != nil {
		return nil, err
	}
	return s.AddEquipment(broker, name, enabled, &id, autoTopic)
}
