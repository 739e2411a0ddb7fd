// Package validation wraps go-playground/validator for e2ekit's request and
// configuration structs. Field names in messages use json tag names, and the
// custom "ident" tag checks suite ids and snapshot names, which become path
// segments on disk.
//
//	type restoreRequest struct {
//	    SuiteID string `json:"suiteId" validate:"required,ident"`
//	}
//	err := validation.Validate(req)
package validation
