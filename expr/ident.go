package expr

import (
	"fmt"
	"regexp"
)

// MaxIdentifierLength bounds variable, constant and catalog names
const MaxIdentifierLength = 100

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// reservedWords can never name a variable or constant. The list covers the
// keywords of common expression languages plus the CEL type names, so a
// validated formula always renders to a legal CEL program.
var reservedWords = map[string]bool{
	"true": true, "false": true, "null": true,
	"if": true, "else": true, "for": true, "while": true,
	"break": true, "continue": true, "return": true,
	"var": true, "let": true, "const": true, "function": true,
	"in": true, "as": true, "import": true, "package": true,
	"namespace": true, "loop": true, "void": true,
	"int": true, "uint": true, "double": true, "bool": true,
	"string": true, "bytes": true, "list": true, "map": true,
	"type": true, "dyn": true, "null_type": true,
}

// IsReserved reports whether name is a keyword or an allow-listed function name
func IsReserved(name string) bool {
	if reservedWords[name] {
		return true
	}
	_, isFunc := functions[name]
	return isFunc
}

// ValidateIdentifier checks that name can be used as a variable or constant key
func ValidateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > MaxIdentifierLength {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("identifier %q must start with a letter or underscore, followed by letters, digits, or underscores", name)
	}
	if IsReserved(name) {
		return fmt.Errorf("cannot use reserved name %q as identifier", name)
	}
	return nil
}
