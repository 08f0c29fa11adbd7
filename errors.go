package crosswire

import (
	"errors"
)

// Runtime errors
var (
	// Registration errors
	ErrModuleNil               = errors.New("module is nil")
	ErrModuleAlreadyRegistered = errors.New("module already registered")
	ErrMasterNotFound          = errors.New("master module not found")
	ErrMasterNotAsync          = errors.New("master module must be asynchronous")
	ErrMasterNotAllowed        = errors.New("master specified for a module that is not a slave")
	ErrModuleLoadFailed        = errors.New("module on_loaded stage failed")

	// Main module errors
	ErrMainModuleNotFound = errors.New("main module not found")
	ErrMainModuleNotAsync = errors.New("main module must be asynchronous")

	// Start errors
	ErrModuleStartFailed = errors.New("module failed to start")

	// Dynamic loading errors
	ErrLibraryNotFound     = errors.New("module library not found")
	ErrSymbolNotFound      = errors.New("symbol not found in module library")
	ErrBadFactorySignature = errors.New("module library symbol has wrong type")
	ErrFactoryReturnedNil  = errors.New("module factory returned nil")

	// API-point mapper errors
	ErrEmitterTypeMismatch  = errors.New("emitter signal type does not match API point")
	ErrDetectorTypeMismatch = errors.New("detector slot type does not match API point")

	// Settings errors
	ErrSettingNotFound  = errors.New("setting not found")
	ErrSettingWrongType = errors.New("setting cannot be converted to requested type")
)
