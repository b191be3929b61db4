package revision

import "github.com/rivermail/syncd/internal/model"

// Descriptor declares how one revisionable entity type participates in the
// change log.
type Descriptor struct {
	ObjectType string

	// Relationships are relationship names whose membership or order
	// change also counts as an update to the entity.
	Relationships []string

	// PropagatedAttributes are the entity's own attributes whose change
	// must additionally mark a linked entity dirty.
	PropagatedAttributes []string

	// Propagate resolves the linked entity for propagated-attribute
	// changes. Nil when the type propagates nothing, and may return nil
	// when the link is not loaded.
	Propagate func(model.Revisionable) model.Revisionable

	// Suppress excludes a specific change from the log entirely.
	Suppress func(Change) bool
}

// Descriptors returns the registry of revisionable entity types.
func Descriptors() map[string]Descriptor {
	return map[string]Descriptor{
		"account": {
			ObjectType: "account",
			// Account rows churn constantly (heartbeats, ownership
			// moves); only creations and sync_state transitions are
			// interesting to log consumers.
			Suppress: func(ch Change) bool {
				if ch.Kind == Insert {
					return false
				}
				return !changedAttr(ch, "sync_state")
			},
		},
		"thread": {
			ObjectType: "thread",
		},
		"message": {
			ObjectType:           "message",
			Relationships:        []string{"categories"},
			PropagatedAttributes: (&model.Message{}).PropagatedAttributes(),
			Propagate: func(rev model.Revisionable) model.Revisionable {
				m, ok := rev.(*model.Message)
				if !ok || m.Thread == nil {
					return nil
				}
				return m.Thread
			},
		},
		"category": {ObjectType: "category"},
		"contact":  {ObjectType: "contact"},
		"event":    {ObjectType: "event"},
	}
}

func changedAttr(ch Change, attr string) bool {
	for _, a := range ch.ChangedAttrs {
		if a == attr {
			return true
		}
	}
	return false
}
