// Package quarryerrors provides examples of structured error handling in Quarry.
package quarryerrors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/quarry/pkg/quarryerrors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	err := quarryerrors.New(quarryerrors.ErrorTypeNoTransaction, "no transaction to commit").
		WithDetail("session", "orders")

	fmt.Println(err.Error())

	// Output:
	// no_transaction: no transaction to commit
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := quarryerrors.Wrap(io.ErrUnexpectedEOF, quarryerrors.ErrorTypeTransferAborted, "bulk transfer aborted").
		WithDetail("destination", "public.events").
		WithDetail("row", 42)

	if quarryerrors.IsType(err, quarryerrors.ErrorTypeTransferAborted) {
		fmt.Println("transfer aborted")
	}
	fmt.Println(err)

	// Output:
	// transfer aborted
	// transfer_aborted: bulk transfer aborted: unexpected EOF
}

// ExampleIsRetryable shows which failures a caller may re-invoke later.
func ExampleIsRetryable() {
	deferred := quarryerrors.New(quarryerrors.ErrorTypeConnectionNotAvailable, "reconnect deferred by cooldown")
	misuse := quarryerrors.New(quarryerrors.ErrorTypeAlreadyInTransaction, "transaction already open")

	fmt.Println(quarryerrors.IsRetryable(deferred))
	fmt.Println(quarryerrors.IsRetryable(misuse))

	// Output:
	// true
	// false
}

// ExampleHasType demonstrates the difference between IsType and HasType on a chain.
func ExampleHasType() {
	mapping := quarryerrors.New(quarryerrors.ErrorTypeRowMapping, "bad row")
	wrapped := quarryerrors.Wrap(mapping, quarryerrors.ErrorTypeTransferAborted, "source failed")

	fmt.Println(quarryerrors.IsType(wrapped, quarryerrors.ErrorTypeRowMapping))
	fmt.Println(quarryerrors.HasType(wrapped, quarryerrors.ErrorTypeRowMapping))
	fmt.Println(quarryerrors.HasType(nil, quarryerrors.ErrorTypeRowMapping))

	// Output:
	// false
	// true
	// false
}

// ExampleNewf shows formatted messages.
func ExampleNewf() {
	err := quarryerrors.Newf(quarryerrors.ErrorTypeUnsupportedField, "fields %v have no wire type", []string{"Tags"})
	fmt.Println(err)

	// Output:
	// unsupported_field: fields [Tags] have no wire type
}
