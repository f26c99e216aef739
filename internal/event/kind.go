package event

import (
	"fmt"

	"github.com/devtrail/memindex/internal/errors"
)

// Source identifies the upstream producer of a raw event. The set is fixed;
// classification from a raw record uses only its declared source tag.
type Source int

const (
	SourceFilesystem Source = iota
	SourceGit
	SourceIDE
	SourceChat
	SourceBuild
	SourceEngine // internal bookkeeping records (rotation, retention)
)

// String returns the string representation of the source.
func (s Source) String() string {
	switch s {
	case SourceFilesystem:
		return "filesystem"
	case SourceGit:
		return "git"
	case SourceIDE:
		return "ide"
	case SourceChat:
		return "chat"
	case SourceBuild:
		return "build"
	case SourceEngine:
		return "engine"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// ParseSource parses a string into a Source.
func ParseSource(s string) (Source, error) {
	switch s {
	case "filesystem":
		return SourceFilesystem, nil
	case "git":
		return SourceGit, nil
	case "ide":
		return SourceIDE, nil
	case "chat":
		return SourceChat, nil
	case "build":
		return SourceBuild, nil
	case "engine":
		return SourceEngine, nil
	default:
		return SourceFilesystem, fmt.Errorf("%w: %q", errors.ErrUnknownSource, s)
	}
}

// AllSources returns every source in declaration order.
func AllSources() []Source {
	return []Source{SourceFilesystem, SourceGit, SourceIDE, SourceChat, SourceBuild, SourceEngine}
}

// MarshalJSON encodes the source as its string name.
func (s Source) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes a source from its string name.
func (s *Source) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSource(unquote(data))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Type is the canonical event type. Each type is derived from explicit
// structural fields of the raw record, never from content.
type Type int

const (
	TypeFileCreate Type = iota
	TypeFileModify
	TypeFileDelete
	TypeFileRename
	TypeCommit
	TypeBranchChange
	TypeMerge
	TypeEditorFocus
	TypeChatMessage
	TypeBuildResult
	TypeRetentionMark
	TypeUnknown
)

// String returns the string representation of the type.
func (t Type) String() string {
	switch t {
	case TypeFileCreate:
		return "file_create"
	case TypeFileModify:
		return "file_modify"
	case TypeFileDelete:
		return "file_delete"
	case TypeFileRename:
		return "file_rename"
	case TypeCommit:
		return "commit"
	case TypeBranchChange:
		return "branch_change"
	case TypeMerge:
		return "merge"
	case TypeEditorFocus:
		return "editor_focus"
	case TypeChatMessage:
		return "chat_message"
	case TypeBuildResult:
		return "build_result"
	case TypeRetentionMark:
		return "retention_mark"
	case TypeUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// ParseType parses a string into a Type.
func ParseType(s string) (Type, error) {
	switch s {
	case "file_create":
		return TypeFileCreate, nil
	case "file_modify":
		return TypeFileModify, nil
	case "file_delete":
		return TypeFileDelete, nil
	case "file_rename":
		return TypeFileRename, nil
	case "commit":
		return TypeCommit, nil
	case "branch_change":
		return TypeBranchChange, nil
	case "merge":
		return TypeMerge, nil
	case "editor_focus":
		return TypeEditorFocus, nil
	case "chat_message":
		return TypeChatMessage, nil
	case "build_result":
		return TypeBuildResult, nil
	case "retention_mark":
		return TypeRetentionMark, nil
	case "unknown":
		return TypeUnknown, nil
	default:
		return TypeUnknown, fmt.Errorf("%w: %q", errors.ErrUnknownType, s)
	}
}

// MarshalJSON encodes the type as its string name.
func (t Type) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON decodes a type from its string name. Unrecognized names map
// to TypeUnknown so a newer journal remains readable.
func (t *Type) UnmarshalJSON(data []byte) error {
	parsed, err := ParseType(unquote(data))
	if err != nil {
		*t = TypeUnknown
		return nil
	}
	*t = parsed
	return nil
}

// Category is the coarse grouping of an event type.
type Category int

const (
	CategoryWorkspace Category = iota
	CategoryVersionControl
	CategoryEditor
	CategoryConversation
	CategoryBuild
	CategoryBookkeeping
	CategoryOther
)

// String returns the string representation of the category.
func (c Category) String() string {
	switch c {
	case CategoryWorkspace:
		return "workspace"
	case CategoryVersionControl:
		return "version_control"
	case CategoryEditor:
		return "editor"
	case CategoryConversation:
		return "conversation"
	case CategoryBuild:
		return "build"
	case CategoryBookkeeping:
		return "bookkeeping"
	case CategoryOther:
		return "other"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCategory parses a string into a Category.
func ParseCategory(s string) (Category, error) {
	switch s {
	case "workspace":
		return CategoryWorkspace, nil
	case "version_control":
		return CategoryVersionControl, nil
	case "editor":
		return CategoryEditor, nil
	case "conversation":
		return CategoryConversation, nil
	case "build":
		return CategoryBuild, nil
	case "bookkeeping":
		return CategoryBookkeeping, nil
	case "other":
		return CategoryOther, nil
	default:
		return CategoryOther, fmt.Errorf("unknown category: %q", s)
	}
}

// MarshalJSON encodes the category as its string name.
func (c Category) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON decodes a category from its string name.
func (c *Category) UnmarshalJSON(data []byte) error {
	parsed, err := ParseCategory(unquote(data))
	if err != nil {
		*c = CategoryOther
		return nil
	}
	*c = parsed
	return nil
}

// CategoryOf returns the fixed category for a canonical type.
func CategoryOf(t Type) Category {
	switch t {
	case TypeFileCreate, TypeFileModify, TypeFileDelete, TypeFileRename:
		return CategoryWorkspace
	case TypeCommit, TypeBranchChange, TypeMerge:
		return CategoryVersionControl
	case TypeEditorFocus:
		return CategoryEditor
	case TypeChatMessage:
		return CategoryConversation
	case TypeBuildResult:
		return CategoryBuild
	case TypeRetentionMark:
		return CategoryBookkeeping
	default:
		return CategoryOther
	}
}

// unquote strips surrounding JSON string quotes without allocating a decoder.
func unquote(data []byte) string {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		return string(data[1 : len(data)-1])
	}
	return string(data)
}
