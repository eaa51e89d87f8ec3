package fakeplatform

import (
	"fmt"

	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identity"
	"github.com/nspcc-dev/docstate/platform"
	"github.com/nspcc-dev/docstate/schema"
	"github.com/nspcc-dev/docstate/transition"
)

func reject(reason platform.RejectReason, format string, args ...any) error {
	return &platform.RejectedError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// execute applies the transition to the state. Must be called under the
// lock.
func (x *Platform) execute(st *transition.StateTransition) (*platform.Result, error) {
	owner, ok := x.identities[st.OwnerID]
	if !ok {
		return nil, reject(platform.RejectNotFound, "identity %s", st.OwnerID)
	}

	key, ok := owner.PublicKey(st.SignerKeyID)
	if !ok || key.Disabled() || key.Purpose != identity.PurposeAuthentication {
		return nil, reject(platform.RejectUnauthorizedKey, "key #%d can not sign transitions", st.SignerKeyID)
	}

	err := st.VerifySignature(key)
	if err != nil {
		return nil, reject(platform.RejectUnauthorizedKey, "%v", err)
	}

	contract, ok := x.contracts[st.ContractID]
	if !ok {
		return nil, reject(platform.RejectNotFound, "data contract %s", st.ContractID)
	}

	typ, err := contract.DocumentType(st.DocumentType)
	if err != nil {
		return nil, reject(platform.RejectValidation, "%v", err)
	}

	dk := documentKey{st.ContractID, st.DocumentType, st.DocumentID}
	cur := x.documents[dk]

	var doc *document.Document

	switch st.Kind {
	case transition.KindCreate:
		doc, err = x.create(typ, st, cur)
	case transition.KindUpdatePrice:
		doc, err = x.updatePrice(typ, st, cur)
	case transition.KindPurchase:
		doc, err = x.purchase(typ, st, cur)
	default:
		err = reject(platform.RejectValidation, "unsupported transition kind %s", st.Kind)
	}

	if err != nil {
		return nil, err
	}

	x.height++

	height, coreHeight := x.height, x.coreHeight

	switch st.Kind {
	case transition.KindCreate:
		doc.CreatedAtBlockHeight, doc.CreatedAtCoreBlockHeight = &height, &coreHeight
		doc.UpdatedAtBlockHeight, doc.UpdatedAtCoreBlockHeight = &height, &coreHeight
	case transition.KindPurchase:
		doc.TransferredAtBlockHeight, doc.TransferredAtCoreBlockHeight = &height, &coreHeight
		fallthrough
	default:
		doc.UpdatedAtBlockHeight, doc.UpdatedAtCoreBlockHeight = &height, &coreHeight
	}

	x.documents[dk] = doc

	return &platform.Result{
		Document:        doc.Clone(),
		BlockHeight:     height,
		CoreBlockHeight: coreHeight,
	}, nil
}

func (x *Platform) create(typ *schema.DocumentType, st *transition.StateTransition, cur *document.Document) (*document.Document, error) {
	if cur != nil {
		return nil, reject(platform.RejectValidation, "document %s already exists", st.DocumentID)
	}

	if st.Revision != x.initialRevision {
		return nil, reject(platform.RejectStaleRevision, "new document revision %d", st.Revision)
	}

	if document.GenerateID(st.ContractID, st.OwnerID, st.DocumentType, st.Entropy) != st.DocumentID {
		return nil, reject(platform.RejectValidation, "document identifier does not match entropy")
	}

	props, err := document.DecodeProperties(typ, st.Properties)
	if err != nil {
		return nil, reject(platform.RejectValidation, "%v", err)
	}

	err = typ.ValidateProperties(props)
	if err != nil {
		return nil, reject(platform.RejectValidation, "%v", err)
	}

	createdAt, updatedAt := st.CreatedAt, st.UpdatedAt

	doc := &document.Document{
		ID:         st.DocumentID,
		OwnerID:    st.OwnerID,
		Properties: props,
		Revision:   st.Revision,
		CreatedAt:  &createdAt,
		UpdatedAt:  &updatedAt,
	}

	err = typ.ValidateSystemFields(doc.HasSystemField)
	if err != nil {
		return nil, reject(platform.RejectValidation, "%v", err)
	}

	return doc, nil
}

func (x *Platform) checkMutation(typ *schema.DocumentType, st *transition.StateTransition, cur *document.Document) error {
	if cur == nil {
		return reject(platform.RejectNotFound, "document %s", st.DocumentID)
	}

	if !typ.IsTransferable() || !typ.AllowsDirectPurchase() {
		return reject(platform.RejectNotTransferable, "document type %q", typ.Name)
	}

	if st.Revision != cur.Revision+1 {
		return reject(platform.RejectStaleRevision, "revision %d, current %d", st.Revision, cur.Revision)
	}

	return nil
}

func (x *Platform) updatePrice(typ *schema.DocumentType, st *transition.StateTransition, cur *document.Document) (*document.Document, error) {
	err := x.checkMutation(typ, st, cur)
	if err != nil {
		return nil, err
	}

	if cur.OwnerID != st.OwnerID {
		return nil, reject(platform.RejectUnauthorizedKey, "identity %s does not own document %s", st.OwnerID, st.DocumentID)
	}

	if st.Price == 0 {
		return nil, reject(platform.RejectValidation, "zero price")
	}

	doc := mutate(cur, st)
	doc.Properties[schema.FieldPrice] = st.Price

	return doc, nil
}

func (x *Platform) purchase(typ *schema.DocumentType, st *transition.StateTransition, cur *document.Document) (*document.Document, error) {
	err := x.checkMutation(typ, st, cur)
	if err != nil {
		return nil, err
	}

	price, ok := cur.Price()
	if !ok || price == 0 {
		return nil, reject(platform.RejectValidation, "document %s is not on sale", st.DocumentID)
	}

	if st.Price != price {
		return nil, reject(platform.RejectValidation, "offered %d, price %d", st.Price, price)
	}

	if cur.OwnerID == st.OwnerID {
		return nil, reject(platform.RejectValidation, "identity %s already owns document %s", st.OwnerID, st.DocumentID)
	}

	buyer := x.identities[st.OwnerID]
	if buyer.Balance < price {
		return nil, reject(platform.RejectInsufficientBalance, "balance %d, price %d", buyer.Balance, price)
	}

	buyer.Balance -= price
	if seller, ok := x.identities[cur.OwnerID]; ok {
		seller.Balance += price
	}

	doc := mutate(cur, st)
	doc.OwnerID = st.OwnerID
	transferredAt := st.UpdatedAt
	doc.TransferredAt = &transferredAt
	delete(doc.Properties, schema.FieldPrice)

	return doc, nil
}

func mutate(cur *document.Document, st *transition.StateTransition) *document.Document {
	doc := cur.Clone()
	if doc.Properties == nil {
		doc.Properties = make(map[string]any)
	}

	updatedAt := st.UpdatedAt
	doc.Revision = st.Revision
	doc.UpdatedAt = &updatedAt

	return doc
}
