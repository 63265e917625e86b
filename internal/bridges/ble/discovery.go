package ble

import (
	"context"
	"fmt"
)

// DiscoveryState is the cursor of the attribute discovery engine.
// It is one of CharDiscovery, DescriptorDiscovery or DiscoveryDone.
type DiscoveryState interface {
	discoveryState()
}

// CharDiscovery enumerates characteristics in Range looking for one that
// supports notifications.
type CharDiscovery struct {
	Range HandleRange
}

// DescriptorDiscovery looks for the CCC descriptor of the characteristic
// whose value lives at ValueHandle.
type DescriptorDiscovery struct {
	Range       HandleRange
	ValueHandle uint16
}

// DiscoveryDone is terminal.
type DiscoveryDone struct {
	Err error
}

func (CharDiscovery) discoveryState()       {}
func (DescriptorDiscovery) discoveryState() {}
func (DiscoveryDone) discoveryState()       {}

// InitialDiscoveryState starts at the first handle with no filter.
func InitialDiscoveryState() DiscoveryState {
	return CharDiscovery{Range: FullRange()}
}

// DiscoveryEvent is an input to Step.
type DiscoveryEvent interface {
	discoveryEvent()
}

// CharacteristicFound reports one characteristic declaration.
type CharacteristicFound struct {
	Attribute Attribute
}

// DescriptorFound reports one descriptor matching the CCC filter.
type DescriptorFound struct {
	Attribute Attribute
}

// DiscoveryComplete reports that a request returned no more attributes.
type DiscoveryComplete struct{}

// DiscoveryFailed reports a failed request.
type DiscoveryFailed struct {
	Err error
}

func (CharacteristicFound) discoveryEvent() {}
func (DescriptorFound) discoveryEvent()     {}
func (DiscoveryComplete) discoveryEvent()   {}
func (DiscoveryFailed) discoveryEvent()     {}

// EffectKind tells the driver what to do after a step.
type EffectKind int

const (
	// EffectContinue keeps consuming results of the current request.
	EffectContinue EffectKind = iota

	// EffectDiscover stops the current request and issues Effect.Next.
	EffectDiscover

	// EffectFinish ends discovery. The scanner may resume.
	EffectFinish
)

// Effect is the output of Step.
type Effect struct {
	Kind EffectKind

	// Subscribe is set when a CCC descriptor was found. It is applied
	// before Next is issued.
	Subscribe *Subscription

	// Next is the request to issue for EffectDiscover.
	Next DiscoverParams

	// Err is the failure for EffectFinish, nil on normal completion.
	Err error
}

// Step is the discovery transition function. It has no side effects.
//
// Every transition that issues a new request moves the range start past
// the attribute that caused it, so discovery terminates after at most one
// request per attribute plus one. An attribute reported outside the
// requested range ends discovery.
func Step(state DiscoveryState, event DiscoveryEvent) (DiscoveryState, Effect) {
	switch ev := event.(type) {
	case DiscoveryComplete:
		return DiscoveryDone{}, Effect{Kind: EffectFinish}
	case DiscoveryFailed:
		return DiscoveryDone{Err: ev.Err}, Effect{Kind: EffectFinish, Err: ev.Err}
	}

	switch st := state.(type) {
	case CharDiscovery:
		found, ok := event.(CharacteristicFound)
		if !ok {
			return st, Effect{Kind: EffectContinue}
		}
		if !st.Range.Contains(found.Attribute.Handle) {
			return DiscoveryDone{}, Effect{Kind: EffectFinish}
		}
		if !found.Attribute.Properties.Has(PropNotify) {
			return st, Effect{Kind: EffectContinue}
		}
		// Value follows the declaration, the CCC follows the value.
		start := uint32(found.Attribute.Handle) + 2
		if start > uint32(st.Range.End) {
			return DiscoveryDone{}, Effect{Kind: EffectFinish}
		}
		valueHandle := found.Attribute.ValueHandle
		if valueHandle == 0 {
			valueHandle = found.Attribute.Handle + 1
		}
		next := HandleRange{Start: uint16(start), End: st.Range.End}
		return DescriptorDiscovery{Range: next, ValueHandle: valueHandle}, Effect{
			Kind: EffectDiscover,
			Next: DiscoverParams{Kind: DiscoverDescriptors, Range: next, UUID: CCCDescriptorUUID},
		}

	case DescriptorDiscovery:
		found, ok := event.(DescriptorFound)
		if !ok {
			return st, Effect{Kind: EffectContinue}
		}
		if !st.Range.Contains(found.Attribute.Handle) {
			return DiscoveryDone{}, Effect{Kind: EffectFinish}
		}
		sub := &Subscription{
			ValueHandle: st.ValueHandle,
			CCCHandle:   found.Attribute.Handle,
			Active:      true,
		}
		start := uint32(found.Attribute.Handle) + 1
		if start > uint32(st.Range.End) {
			return DiscoveryDone{}, Effect{Kind: EffectFinish, Subscribe: sub}
		}
		next := HandleRange{Start: uint16(start), End: st.Range.End}
		return CharDiscovery{Range: next}, Effect{
			Kind:      EffectDiscover,
			Subscribe: sub,
			Next:      DiscoverParams{Kind: DiscoverCharacteristics, Range: next},
		}

	default:
		return st, Effect{Kind: EffectFinish}
	}
}

// describeDiscovery renders a state for status reporting.
func describeDiscovery(state DiscoveryState) string {
	switch st := state.(type) {
	case CharDiscovery:
		return "characteristics " + st.Range.String()
	case DescriptorDiscovery:
		return fmt.Sprintf("descriptors %s value 0x%04x", st.Range, st.ValueHandle)
	case DiscoveryDone:
		if st.Err != nil {
			return "failed"
		}
		return "done"
	default:
		return "pending"
	}
}

// DiscoverySink receives the side effects of discovery.
type DiscoverySink interface {
	// DiscoveryProgress is called after every step with the new cursor and
	// the number of requests issued so far.
	DiscoveryProgress(state DiscoveryState, rounds int)

	// DiscoveredSubscription is called for each characteristic that has
	// a CCC descriptor. Errors are reported by the sink, discovery goes on.
	DiscoveredSubscription(ctx context.Context, valueHandle, cccHandle uint16)
}

// RunDiscovery drives Step against a link until it finishes.
//
// Exactly one request is outstanding at any time. Results of a request are
// fed to Step in handle order; the first result that triggers a new request
// abandons the rest of the batch.
//
// Returns the number of requests issued and the error that ended
// discovery, if any.
func RunDiscovery(ctx context.Context, link Link, sink DiscoverySink) (int, error) {
	state := InitialDiscoveryState()
	params := DiscoverParams{Kind: DiscoverCharacteristics, Range: FullRange()}
	rounds := 0

	for {
		if err := ctx.Err(); err != nil {
			state, _ = Step(state, DiscoveryFailed{Err: err})
			sink.DiscoveryProgress(state, rounds)
			return rounds, err
		}

		attrs, err := link.Discover(ctx, params)
		rounds++
		if err != nil {
			state, _ = Step(state, DiscoveryFailed{Err: err})
			sink.DiscoveryProgress(state, rounds)
			return rounds, fmt.Errorf("discover %s %s: %w", params.Kind, params.Range, err)
		}

		var effect Effect
		issued := false
		for _, attr := range attrs {
			state, effect = Step(state, discoveryEventFor(params.Kind, attr))
			if effect.Subscribe != nil {
				sink.DiscoveredSubscription(ctx, effect.Subscribe.ValueHandle, effect.Subscribe.CCCHandle)
			}
			if effect.Kind == EffectFinish {
				sink.DiscoveryProgress(state, rounds)
				return rounds, effect.Err
			}
			if effect.Kind == EffectDiscover {
				params = effect.Next
				issued = true
				break
			}
		}

		if !issued {
			state, _ = Step(state, DiscoveryComplete{})
			sink.DiscoveryProgress(state, rounds)
			return rounds, nil
		}
		sink.DiscoveryProgress(state, rounds)
	}
}

func discoveryEventFor(kind DiscoverKind, attr Attribute) DiscoveryEvent {
	if kind == DiscoverDescriptors {
		return DescriptorFound{Attribute: attr}
	}
	return CharacteristicFound{Attribute: attr}
}
