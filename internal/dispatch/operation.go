package dispatch

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Operation is a core method the gateway may dispatch.
type Operation string

const (
	GetFrameworkInfo         Operation = "GetFrameworkInfo"
	GetIntegratedServices    Operation = "GetIntegratedServices"
	GetEnvironments          Operation = "GetEnvironments"
	GetEnvironment           Operation = "GetEnvironment"
	GetWorkflowTemplates     Operation = "GetWorkflowTemplates"
	ListRepos                Operation = "ListRepos"
	GetActiveDetectors       Operation = "GetActiveDetectors"
	GetTasks                 Operation = "GetTasks"
	NewEnvironment           Operation = "NewEnvironment"
	NewAutoEnvironment       Operation = "NewAutoEnvironment"
	ControlEnvironment       Operation = "ControlEnvironment"
	ModifyEnvironment        Operation = "ModifyEnvironment"
	DestroyEnvironment       Operation = "DestroyEnvironment"
	CleanupTasks             Operation = "CleanupTasks"
	AddRepo                  Operation = "AddRepo"
	RemoveRepo               Operation = "RemoveRepo"
	RefreshRepos             Operation = "RefreshRepos"
	SetDefaultRepo           Operation = "SetDefaultRepo"
	SetGlobalDefaultRevision Operation = "SetGlobalDefaultRevision"
	SetRepoDefaultRevision   Operation = "SetRepoDefaultRevision"
)

// Operations lists every supported operation.
var Operations = []Operation{
	GetFrameworkInfo,
	GetIntegratedServices,
	GetEnvironments,
	GetEnvironment,
	GetWorkflowTemplates,
	ListRepos,
	GetActiveDetectors,
	GetTasks,
	NewEnvironment,
	NewAutoEnvironment,
	ControlEnvironment,
	ModifyEnvironment,
	DestroyEnvironment,
	CleanupTasks,
	AddRepo,
	RemoveRepo,
	RefreshRepos,
	SetDefaultRepo,
	SetGlobalDefaultRevision,
	SetRepoDefaultRevision,
}

func (o Operation) String() string {
	return string(o)
}

// ParseOperation maps a transport path such as "/get-environments" or
// "set_default_repo" onto a supported operation.
func ParseOperation(path string) (Operation, error) {
	name := MethodName(path)
	for _, op := range Operations {
		if string(op) == name {
			return op, nil
		}
	}
	return "", &Error{Kind: KindUnsupported, Operation: name, Message: "unsupported operation " + quoteName(name, path)}
}

// MethodName collapses path separators and capitalises each segment.
func MethodName(path string) string {
	fields := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '-' || r == '_'
	})
	var b strings.Builder
	for _, f := range fields {
		r, size := utf8.DecodeRuneInString(f)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(f[size:])
	}
	return b.String()
}

func quoteName(name, path string) string {
	if name == "" {
		return `"` + path + `"`
	}
	return `"` + name + `"`
}
