package updater

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
	"github.com/astarte-platform/astarte-data-updater-plant/internal/queries"
)

// InstallVolatileTrigger implements spec.md §4.2.6: require individual
// aggregation for a data trigger with a specific match path (loading the
// interface from the DB schema if it isn't cache-loaded yet), then compile
// and append it. The match path itself is not resolved against the
// interface's automaton, so a path naming no endpoint is accepted.
func (a *Actor) InstallVolatileTrigger(ctx context.Context, vt model.VolatileTrigger, interfaceName string) error {
	if vt.Data != nil {
		if err := a.validateVolatileDataTrigger(ctx, vt.Data, interfaceName); err != nil {
			return err
		}
		a.dispatch.InstallDataTrigger(vt.Data)
	}
	if vt.Device != nil {
		a.dispatch.InstallDeviceTrigger(vt.Device)
	}
	if vt.Introspection != nil {
		a.dispatch.InstallIntrospectionTrigger(vt.Introspection)
	}

	a.mu.Lock()
	a.volatileTriggers = append(a.volatileTriggers, vt)
	a.mu.Unlock()
	return nil
}

func (a *Actor) validateVolatileDataTrigger(ctx context.Context, dt *model.DataTrigger, interfaceName string) error {
	hasSpecificPath := len(dt.MatchPathTokens) > 0
	if !hasSpecificPath {
		return nil
	}

	a.mu.Lock()
	row, cached := a.interfaces.get(interfaceName)
	a.mu.Unlock()
	if !cached {
		loaded, err := a.resolveInterfaceForValidation(ctx, interfaceName)
		if err != nil {
			return err
		}
		row = loaded
	}
	if row.Aggregation != model.AggregationIndividual {
		return model.Discard(model.ErrInvalidPath, fmt.Errorf("volatile trigger with a specific match path requires an individual-aggregation interface"))
	}
	return nil
}

func (a *Actor) resolveInterfaceForValidation(ctx context.Context, interfaceName string) (*queries.InterfaceRow, error) {
	device, err := a.store.GetDevice(ctx, a.Key.DeviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, errDeviceNotFound(a.Key.DeviceID)
	}
	major, declared := device.Introspection[interfaceName]
	if !declared {
		return nil, fmt.Errorf("updater: interface %s not declared by device", interfaceName)
	}
	return a.loadInterfaceRow(ctx, interfaceName, major)
}

// DeleteVolatileTrigger implements spec.md §4.2.6's deletion: remove from
// volatile_triggers and from the compiled table by target identity.
func (a *Actor) DeleteVolatileTrigger(simpleTriggerID, parentTriggerID uuid.UUID) {
	a.dispatch.RemoveByTarget(simpleTriggerID, parentTriggerID)

	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.volatileTriggers[:0]
	for _, vt := range a.volatileTriggers {
		if vt.SimpleTriggerID == simpleTriggerID && vt.ParentTriggerID == parentTriggerID {
			continue
		}
		kept = append(kept, vt)
	}
	a.volatileTriggers = kept
}
