package processor

import (
	"fmt"

	"github.com/roach88/flowsim/internal/ir"
)

const defaultSourceTokenType = "data"

// DataSource turns external seeds into generation-0 tokens and, when
// configured with an interval, generates tokens on its own schedule.
type DataSource struct{}

// DataSourceState counts emitted tokens.
type DataSourceState struct {
	Emitted   int
	Generated int
}

// Snapshot implements State.
func (s *DataSourceState) Snapshot() ir.IRObject {
	return ir.IRObject{
		"emitted":   ir.IRInt(s.Emitted),
		"generated": ir.IRInt(s.Generated),
	}
}

func (*DataSource) NodeType() ir.NodeType { return ir.NodeTypeDataSource }

func (*DataSource) SupportedEvents() []ir.EventType {
	return []ir.EventType{ir.EventSimulationStart, ir.EventDataEmit, ir.EventTimeTimeout}
}

func (*DataSource) Process(env *Env, ev ir.Event, cfg ir.NodeConfig, st State) (Result, error) {
	var next DataSourceState
	if prev, ok := st.(*DataSourceState); ok && prev != nil {
		next = *prev
	}
	src := cfg.Source
	if src == nil {
		src = &ir.DataSourceConfig{}
	}

	switch ev.Type {
	case ir.EventSimulationStart:
		res := Result{State: &next}
		if src.Interval > 0 {
			res.Events = append(res.Events, selfEvent(cfg, ir.EventTimeTimeout, src.Start, ir.IRObject{"n": ir.IRInt(0)}, nil))
		}
		return res, nil

	case ir.EventDataEmit:
		if ev.Token != nil {
			return Result{}, fmt.Errorf("data source %s: unexpected routed token %s", cfg.NodeID, ev.Token.ID)
		}
		value := ev.Data.Clone()
		corr := sourceCorrelation(src, value, ev.Metadata.String(ir.MetaExternalID))
		typ := src.TokenType
		if t := ev.Metadata.String("type"); t != "" && typ == "" {
			typ = t
		}
		meta := ir.IRObject{}
		if extID := ev.Metadata.String(ir.MetaExternalID); extID != "" {
			meta[ir.MetaExternalID] = ir.IRString(extID)
		}
		res, err := emitSourceToken(cfg, ev.Timestamp, value, corr, typ, meta)
		if err != nil {
			return Result{}, err
		}
		next.Emitted++
		res.State = &next
		return res, nil

	case ir.EventTimeTimeout:
		n, _ := ev.Data.Int("n")
		value, err := ir.ObjectFromGo(src.Value)
		if err != nil {
			return Result{}, fmt.Errorf("data source %s: value template: %w", cfg.NodeID, err)
		}
		value["sequence"] = ir.IRInt(n)
		corr := sourceCorrelation(src, value, fmt.Sprintf("%s-%d", cfg.NodeID, n))

		res, err := emitSourceToken(cfg, ev.Timestamp, value, corr, src.TokenType, ir.IRObject{"sequence": ir.IRInt(n)})
		if err != nil {
			return Result{}, err
		}
		next.Emitted++
		next.Generated++
		if src.Count == 0 || int(n)+1 < src.Count {
			res.Events = append(res.Events, selfEvent(cfg, ir.EventTimeTimeout, ev.Timestamp+src.Interval, ir.IRObject{"n": ir.IRInt(n + 1)}, nil))
		}
		res.State = &next
		return res, nil
	}
	return Result{}, &UnsupportedEventError{NodeType: cfg.Type, NodeID: cfg.NodeID, EventType: ev.Type}
}

// sourceCorrelation picks the correlation id of a new source token: the
// configured value field when present, else fallback.
func sourceCorrelation(src *ir.DataSourceConfig, value ir.IRObject, fallback string) []string {
	if src.CorrelationField != "" {
		switch v := value[src.CorrelationField].(type) {
		case ir.IRString:
			return []string{string(v)}
		case ir.IRInt:
			return []string{fmt.Sprintf("%d", int64(v))}
		}
	}
	if fallback == "" {
		return nil
	}
	return []string{fallback}
}

func emitSourceToken(cfg ir.NodeConfig, ts int64, value ir.IRObject, corr []string, typ string, meta ir.IRObject) (Result, error) {
	if typ == "" {
		typ = defaultSourceTokenType
	}
	id, err := ir.SourceTokenID(cfg.NodeID, ts, value, corr)
	if err != nil {
		return Result{}, fmt.Errorf("data source %s: %w", cfg.NodeID, err)
	}
	tok := newToken(id, typ, value, meta, ts, cfg.NodeID)
	return Result{
		Events:     []ir.Event{emitEvent(cfg, tok, ts, "")},
		Activities: []ir.ActivityEntry{ir.TokenActivity(cfg.Type, ir.ActionEmit, tok, "source")},
	}, nil
}
