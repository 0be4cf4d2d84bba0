// Package handler provides the built-in reaction handlers.
//
// Handlers are stateless: every call reads its settings from the reaction
// template's handler_parameters, so one instance can serve any number of
// reactions.
//
//	Passthrough  forwards {"id","name","data"} of the event
//	FieldMap     renames, adds, removes and case-folds data fields
//	Threshold    forwards data only when a numeric field crosses a limit
package handler
