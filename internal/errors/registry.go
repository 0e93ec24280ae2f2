package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Configuration (E100-E119)

	"E100": {
		Category:   CategoryConfig,
		Message:    "Config file could not be read",
		Detail:     "The configuration file exists but could not be parsed.",
		Suggestion: "Check that cable.yaml is valid YAML",
	},
	"E101": {
		Category:   CategoryConfig,
		Message:    "Invalid configuration",
		Detail:     "A configuration value is out of range or inconsistent with another value.",
		Suggestion: "Run 'cable serve --help' to see the accepted flags and defaults",
	},
	"E102": {
		Category:   CategoryConfig,
		Message:    "Unknown duplicate policy",
		Detail:     "routing.duplicate_policy must be one of overwrite or reject.",
		Suggestion: "Set routing.duplicate_policy: overwrite",
	},

	// Routing (E120-E139)

	"E120": {
		Category:   CategoryRouting,
		Message:    "Routes file not found",
		Detail:     "The routes file named by the routes setting does not exist.",
		Suggestion: "Pass --routes or set routes in cable.yaml",
	},
	"E121": {
		Category: CategoryRouting,
		Message:  "Routes file could not be parsed",
		Detail:   "The routes file must be a YAML document with an events list and optional namespaces.",
	},
	"E122": {
		Category:   CategoryRouting,
		Message:    "Duplicate subscription",
		Suggestion: "Remove one of the entries or set routing.duplicate_policy: overwrite",
	},
	"E123": {
		Category: CategoryRouting,
		Message:  "Invalid subscription",
		Detail:   "Every subscription needs an event name, a target and a method.",
	},
	"E124": {
		Category:   CategoryRouting,
		Message:    "Unknown controller target",
		Detail:     "A route refers to a controller that is not registered.",
		Suggestion: "Run 'cable routes' to list the routes and their targets",
	},

	// Server (E140-E159)

	"E140": {
		Category:   CategoryServer,
		Message:    "Server failed",
		Detail:     "The HTTP server stopped with an error.",
		Suggestion: "Check that the address is free and that you have permission to bind it",
	},
	"E141": {
		Category: CategoryServer,
		Message:  "Shutdown deadline exceeded",
		Detail:   "Some connections did not finish their disconnect handlers before shutdown_timeout.",
	},

	// CLI (E160-E179)

	"E160": {
		Category: CategoryCLI,
		Message:  "Command failed",
	},
}

// GetAllCodes returns all registered error codes, sorted.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
