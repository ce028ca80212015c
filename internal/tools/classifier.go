package tools

import (
	"regexp"
	"strings"
)

// Category is a coarse intent bucket used to narrow the tools offered to the
// model for one turn.
type Category string

const (
	CategorySimple    Category = "simple"
	CategoryKnowledge Category = "knowledge"
	CategoryTimeCalc  Category = "time_calc"
	CategorySystem    Category = "system"
	CategoryMedia     Category = "media"
	CategoryN8N       Category = "n8n"
	CategoryMemory    Category = "memory"
	CategorySSH       Category = "ssh"
	CategoryFull      Category = "full"
)

var timeCalcTools = []string{"calculator", "get_current_time"}

var categoryTools = map[Category][]string{
	CategorySimple:    {},
	CategoryKnowledge: {},
	CategoryTimeCalc:  timeCalcTools,
	CategorySystem:    append(append([]string{}, timeCalcTools...), "system_status", "docker_control", "service_control"),
	CategoryMedia:     append(append([]string{}, timeCalcTools...), "jellyfin_api"),
	CategoryN8N: {
		"n8n_workflow_list", "n8n_workflow_get", "n8n_workflow_create", "n8n_workflow_update",
		"n8n_workflow_delete", "n8n_workflow_activate", "n8n_workflow_deactivate", "n8n_workflow_execute",
	},
	CategoryMemory: {"add_memory", "memory_governance", "memory_deduplication"},
	CategorySSH:    {"ssh_command", "gemini_cli"},
}

type categoryRule struct {
	category Category
	patterns []*regexp.Regexp
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Rules in priority order; explicit tool mentions win over conversational ones.
var classifierRules = []categoryRule{
	{CategoryN8N, compileAll(
		`\bn8n\b`, `\bworkflow\b`, `\bautomation\b`,
	)},
	{CategorySystem, compileAll(
		`\bsystem\b`, `\bcpu\b`, `\bmemory\b`, `\bram\b`,
		`\bdisk\b`, `\buptime\b`, `\bprocess\b`, `\bnetwork\b`,
		`\bdocker\b`, `\bcontainer\b`, `\bservice\b`, `\bsystemd\b`,
		`\bserver\b`, `\bstatus\b`, `\bhealth\b`,
		`\brestart\b.*\b(service|container|docker)\b`,
	)},
	{CategoryMedia, compileAll(
		`\bjellyfin\b`, `\bmedia\b`, `\bmovie\b`, `\bshow\b`,
		`\bvideo\b`, `\bstream\b`, `\blibrary\b`, `\bplaying\b`,
		`\bsession\b.*\bactive\b`, `\bwhat\s+(is|are)\s+(being\s+)?watch`,
	)},
	{CategorySSH, compileAll(
		`\bssh\b`, `\bcommand\b`, `\bexecute\b`, `\brun\b`,
		`\bgemini\b`, `\bterminal\b`, `\bshell\b`,
	)},
	{CategoryMemory, compileAll(
		`\bremember\b`, `\bforget\b`,
		`\bsave\b.*\b(this|that|it)\b`, `\bstore\b`,
		`\brecall\b`, `\bwhat\s+do\s+you\s+(know|remember)\b`,
	)},
	{CategoryTimeCalc, compileAll(
		`\btime\b`, `\bdate\b`, `\bclock\b`, `\btoday\b`,
		`\bcalculate\b`, `\bmath\b`, `\bcompute\b`,
		`\d+\s*[\+\-\*/\^]\s*\d+`,
		`\bsquared?\b`, `\bsqrt\b`, `\broot\b`,
		`\bwhat\s+is\s+\d+`, `\bhow\s+much\s+is\b`,
	)},
	{CategorySimple, compileAll(
		`^(hi|hello|hey|good\s+(morning|afternoon|evening)|greetings)`,
		`^(thanks|thank\s+you|bye|goodbye|dismiss|that\s+will\s+be\s+all)`,
		`^(how\s+are\s+you|what'?s\s+up)`,
	)},
	{CategoryKnowledge, compileAll(
		`^(what|who|when|where|why|how)\s+(is|are|was|were|did|does|do)\b`,
		`\b(explain|describe|tell\s+me\s+about|define)\b`,
		`\b(capital|president|population|country|city)\b`,
		`\b(compare|difference|between)\b`,
		`\bpros\s+and\s+cons\b`,
	)},
}

// Classify returns the first category whose patterns match query, or
// CategoryFull.
func Classify(query string) Category {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, rule := range classifierRules {
		for _, re := range rule.patterns {
			if re.MatchString(q) {
				return rule.category
			}
		}
	}
	return CategoryFull
}

// ToolsFor returns the tool names for c. The boolean is false for
// CategoryFull, meaning every tool.
func ToolsFor(c Category) ([]string, bool) {
	names, ok := categoryTools[c]
	if !ok {
		return nil, false
	}
	return append([]string(nil), names...), true
}

// DefinitionsForQuery selects the definitions to offer for query.
func (d *Dispatcher) DefinitionsForQuery(query string) ([]Definition, Category) {
	category := Classify(query)
	names, limited := ToolsFor(category)
	if !limited {
		return d.ListSchemas(), category
	}
	return d.Definitions(names...), category
}
