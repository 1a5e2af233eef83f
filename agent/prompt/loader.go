package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

var (
	//go:embed template/base_system_message.txt
	baseRaw string

	//go:embed template/tool_usage_instructions.txt
	toolUsageRaw string

	//go:embed template/memory_section.txt
	memorySectionRaw string

	//go:embed template/fallback_reply.txt
	fallbackRaw string
)

// Set holds loaded prompt content.
type Set struct {
	Base          string
	ToolUsage     string
	MemorySection string
	Fallback      string
}

// LoadSet returns a Set with trimmed prompt strings. Safe to call
// concurrently; the embed is compile-time and trimming is cheap.
func LoadSet() Set {
	return Set{
		Base:          strings.TrimSpace(baseRaw),
		ToolUsage:     strings.TrimSpace(toolUsageRaw),
		MemorySection: strings.TrimSpace(memorySectionRaw),
		Fallback:      strings.TrimSpace(fallbackRaw),
	}
}

// BuildSystemMessage composes the behavioral preamble, the tool enumeration
// for the bound capability set, and the retrieved memory text. Tool and
// memory sections are omitted when empty.
func (s Set) BuildSystemMessage(tools []*schema.ToolInfo, memories string) string {
	parts := []string{s.Base}

	if enum := enumerateTools(tools); enum != "" {
		parts = append(parts, strings.ReplaceAll(s.ToolUsage, "{tools}", enum))
	}

	if memories = strings.TrimSpace(memories); memories != "" {
		parts = append(parts, strings.ReplaceAll(s.MemorySection, "{memories}", memories))
	}

	return strings.Join(parts, "\n\n")
}

func enumerateTools(tools []*schema.ToolInfo) string {
	var b strings.Builder
	for _, t := range tools {
		if t == nil || strings.TrimSpace(t.Name) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %s", t.Name, strings.TrimSpace(t.Desc))
	}
	return b.String()
}
