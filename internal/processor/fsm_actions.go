package processor

import (
	"fmt"
	"strings"

	"github.com/roach88/flowsim/internal/ir"
)

const (
	fsmDataTokenType      = "fsm_data"
	notificationTokenType = "notification"
)

// runActions executes actions in order. Each action's own condition is
// evaluated against the subject as it stands when the action runs, so an
// earlier set_variable is visible to later guards.
func (r *fsmRun) runActions(key string, subj *TokenFSMState, actions []ir.FSMAction, trigger string) error {
	for _, a := range actions {
		ok, err := r.env.guard(r.cfg, r.tick, a.Condition, r.scope(subj, trigger), &r.res)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := r.runAction(key, subj, a, trigger); err != nil {
			return err
		}
	}
	return nil
}

func (r *fsmRun) runAction(key string, subj *TokenFSMState, a ir.FSMAction, trigger string) error {
	meta := ir.IRObject{
		ir.MetaTokenID: ir.IRString(subj.Token.ID),
		"state":        ir.IRString(subj.CurrentState),
		"subject":      ir.IRString(key),
	}

	switch a.Type {
	case ir.FSMActionEmitData:
		data, err := r.template(subj, trigger, a.Data)
		if err != nil {
			return err
		}
		tok, err := r.derivedToken(subj, fsmDataTokenType, data, a.Delay, ir.IRObject{"emit": data})
		if err != nil {
			return err
		}
		r.res.Events = append(r.res.Events, r.actionEvent(a, tok))
		r.res.Activities = append(r.res.Activities, ir.TokenActivity(r.cfg.Type, ir.ActionFSMEmitData, tok, "emit_data:"+subj.CurrentState))

	case ir.FSMActionModifyToken:
		fields, err := r.template(subj, trigger, a.Fields)
		if err != nil {
			return err
		}
		subj.Token.Value = subj.Token.Value.Merge(fields)
		r.res.Activities = append(r.res.Activities, r.activity(subj, ir.ActionTokenModified, fields, meta))

	case ir.FSMActionSetVariable:
		var value ir.IRValue = ir.IRNull{}
		if a.Expression != "" {
			v, ok, err := r.env.eval(r.cfg, r.tick, a.Expression, r.scope(subj, trigger), &r.res)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			value = v
		} else if a.Value != nil {
			v, err := ir.FromGo(a.Value)
			if err != nil {
				return fmt.Errorf("fsm %s: set_variable %s: %w", r.cfg.NodeID, a.Variable, err)
			}
			value = v
		}
		subj.Variables = subj.Variables.Merge(ir.IRObject{a.Variable: value})
		meta["variable"] = ir.IRString(a.Variable)
		r.res.Activities = append(r.res.Activities, r.activity(subj, ir.ActionVariableSet, value, meta))

	case ir.FSMActionLogActivity:
		r.res.Activities = append(r.res.Activities, r.activity(subj, ir.ActionFSMLog, ir.IRString(a.Message), meta))

	case ir.FSMActionSendNotification:
		note := ir.IRObject{
			"channel":   ir.IRString(a.Channel),
			"recipient": ir.IRString(a.Recipient),
			"message":   ir.IRString(a.Message),
			"state":     ir.IRString(subj.CurrentState),
		}
		tok, err := r.derivedToken(subj, notificationTokenType, note, a.Delay, ir.IRObject{"notification": note})
		if err != nil {
			return err
		}
		r.res.Events = append(r.res.Events, r.actionEvent(a, tok))
		r.res.Activities = append(r.res.Activities, ir.TokenActivity(r.cfg.Type, ir.ActionNotification, tok, "notify:"+a.Channel))

	default:
		return fmt.Errorf("fsm %s: unknown action type %q", r.cfg.NodeID, a.Type)
	}
	return nil
}

// derivedToken creates a child of the subject's in-flight token.
func (r *fsmRun) derivedToken(subj *TokenFSMState, typ string, value ir.IRObject, delay int64, desc ir.IRObject) (ir.Token, error) {
	ts := r.tick + max(delay, 0)
	desc["state"] = ir.IRString(subj.CurrentState)
	id, err := ir.GenerateTokenID(r.cfg.NodeID, r.cfg.Type, ts, []string{subj.Token.ID}, desc, subj.CorrelationIDs)
	if err != nil {
		return ir.Token{}, fmt.Errorf("fsm %s: %w", r.cfg.NodeID, err)
	}
	return newToken(id, typ, value, ir.IRObject{"fsmState": ir.IRString(subj.CurrentState)}, ts, r.cfg.NodeID), nil
}

// actionEvent routes an action's token to its explicit target node, its
// named output, or every output.
func (r *fsmRun) actionEvent(a ir.FSMAction, tok ir.Token) ir.Event {
	ev := emitEvent(r.cfg, tok, tok.Timestamp, a.Output)
	ev.TargetNodeID = a.Target
	return ev
}

// template converts an action's data map, evaluating every string value
// written as "${expression}" against the subject's scope.
func (r *fsmRun) template(subj *TokenFSMState, trigger string, data map[string]any) (ir.IRObject, error) {
	obj, err := ir.ObjectFromGo(data)
	if err != nil {
		return nil, fmt.Errorf("fsm %s: action data: %w", r.cfg.NodeID, err)
	}
	scope := r.scope(subj, trigger)
	for _, k := range obj.SortedKeys() {
		s, ok := obj[k].(ir.IRString)
		if !ok {
			continue
		}
		src, isExpr := strings.CutPrefix(string(s), "${")
		if !isExpr || !strings.HasSuffix(src, "}") {
			continue
		}
		v, ok, err := r.env.eval(r.cfg, r.tick, strings.TrimSuffix(src, "}"), scope, &r.res)
		if err != nil {
			return nil, err
		}
		if ok {
			obj[k] = v
		} else {
			obj[k] = ir.IRNull{}
		}
	}
	return obj, nil
}
