package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/inventory-service/pkg/errors"
)

// LineItem is one product/quantity pair of an order.
type LineItem struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int   `json:"quantity" validate:"gt=0"`
}

// OrderRequested asks for every line of an order to be reserved.
type OrderRequested struct {
	OrderID    int64      `json:"order_id" validate:"gt=0"`
	OrderItems []LineItem `json:"order_items" validate:"required,min=1,dive"`
}

// OrderCancelled asks for the reservation of every line to be released.
type OrderCancelled struct {
	OrderID    int64      `json:"order_id" validate:"gt=0"`
	OrderItems []LineItem `json:"order_items" validate:"required,min=1,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeOrderRequested parses and validates a reserve request body.
func DecodeOrderRequested(raw []byte) (OrderRequested, error) {
	var evt OrderRequested
	if err := decode(raw, &evt); err != nil {
		return OrderRequested{}, err
	}
	if err := evt.Validate(); err != nil {
		return OrderRequested{}, err
	}
	return evt, nil
}

// DecodeOrderCancelled parses and validates a cancel request body.
func DecodeOrderCancelled(raw []byte) (OrderCancelled, error) {
	var evt OrderCancelled
	if err := decode(raw, &evt); err != nil {
		return OrderCancelled{}, err
	}
	if err := evt.Validate(); err != nil {
		return OrderCancelled{}, err
	}
	return evt, nil
}

func (e OrderRequested) Validate() error {
	return validateStruct(e)
}

func (e OrderCancelled) Validate() error {
	return validateStruct(e)
}

func decode(raw []byte, out any) error {
	if !utf8.Valid(raw) {
		return pkgerrors.New(pkgerrors.CodeValidation, "message body is not valid UTF-8")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "message body does not match schema")
	}
	if dec.More() {
		return pkgerrors.New(pkgerrors.CodeValidation, "message body has trailing data")
	}
	return nil
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fields []string
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order event").WithDetails(fields)
}
