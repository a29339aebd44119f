package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/omarhaddadin/mizan-pos/internal/documents"
	"github.com/omarhaddadin/mizan-pos/pkg/docstore"
	"github.com/omarhaddadin/mizan-pos/pkg/errors"
)

// Authorizer identifies the operator who decided a request at the
// terminal itself, via an NFC tag tap.
type Authorizer struct {
	UserID   string
	Username string
	Role     string
}

// AuthorizeByNFC resolves the presented tag to an operator. An unknown
// tag is an authorization failure, not a lookup miss.
func (e *Engine) AuthorizeByNFC(ctx context.Context, tag string) (Authorizer, error) {
	if tag == "" {
		return Authorizer{}, errors.New(errors.CodeValidation, "nfc tag is required")
	}
	docs, err := e.store.Find(ctx, docstore.Selector{Type: string(documents.TypeUser)})
	if err != nil {
		return Authorizer{}, err
	}
	for _, doc := range docs {
		var user documents.User
		if err := doc.DecodeBody(&user); err != nil {
			continue
		}
		if user.NFCTag != "" && user.NFCTag == tag {
			return Authorizer{UserID: doc.ID, Username: user.Username, Role: user.Role}, nil
		}
	}
	return Authorizer{}, errors.New(errors.CodeUnauthorized, "no operator matches the presented tag")
}

// ApproveRequest marks a pending request approved on behalf of the
// authorizer. The watcher applies the effect when the write lands on
// the change feed.
func (e *Engine) ApproveRequest(ctx context.Context, requestID string, by Authorizer, method string) error {
	return e.decide(ctx, requestID, documents.StatusApproved, by, method)
}

// ApproveOrderRequests flips every pending request raised against the
// order to approved on behalf of the authorizer. This is the NFC tap
// flow: the manager authorizes the whole order at once.
func (e *Engine) ApproveOrderRequests(ctx context.Context, orderID string, by Authorizer) (int, error) {
	if orderID == "" {
		return 0, errors.New(errors.CodeValidation, "order id is required")
	}
	pending, err := e.PendingRequests(ctx)
	if err != nil {
		return 0, err
	}
	approved := 0
	for _, doc := range pending {
		var meta documents.RequestMeta
		if err := doc.DecodeBody(&meta); err != nil || meta.OrderID != orderID {
			continue
		}
		if err := e.decide(ctx, doc.ID, documents.StatusApproved, by, "nfc"); err != nil {
			return approved, err
		}
		approved++
	}
	return approved, nil
}

// RejectRequest marks a pending request rejected.
func (e *Engine) RejectRequest(ctx context.Context, requestID string, by Authorizer, method string) error {
	return e.decide(ctx, requestID, documents.StatusRejected, by, method)
}

func (e *Engine) decide(ctx context.Context, requestID string, status documents.RequestStatus, by Authorizer, method string) error {
	doc, err := e.store.Get(ctx, requestID)
	if err != nil {
		return err
	}
	typ, err := documents.ParseType(doc.Type)
	if err != nil || !isApprovalRequestType(typ) {
		return errors.New(errors.CodeStateConflict, "document is not an approval request")
	}
	if documents.RequestStatus(doc.Status).IsTerminal() {
		return errors.New(errors.CodeStateConflict, "request already decided")
	}

	// Every request kind embeds the same approval metadata, so the body
	// can be stamped without knowing the kind.
	var body map[string]any
	if err := doc.DecodeBody(&body); err != nil {
		return errors.Wrap(errors.CodeValidation, err, "decoding request payload")
	}
	if body == nil {
		body = map[string]any{}
	}
	now := e.now().UTC()
	body["approved_by"] = by.UserID
	body["approved_at"] = now.Format(time.RFC3339Nano)
	body["approval_method"] = method

	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(errors.CodeValidation, err, "encoding request payload")
	}
	doc.Body = raw
	doc.Status = string(status)
	_, err = e.store.Put(ctx, doc)
	return err
}

func isApprovalRequestType(typ documents.Type) bool {
	for _, candidate := range documents.ApprovalRequestTypes() {
		if candidate == typ {
			return true
		}
	}
	return false
}
