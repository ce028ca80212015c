package tools

import "encoding/json"

// DefaultRemoteDefinitions is the catalog served by the tool executor when no
// manifest overrides it.
func DefaultRemoteDefinitions() []Definition {
	defs := []Definition{
		{
			Name:        "system_status",
			Description: "Get system information: CPU, memory, disk, network, processes, or uptime from the server.",
			Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "infoType": {
      "type": "string",
      "enum": ["cpu", "memory", "disk", "network", "processes", "uptime", "all"],
      "description": "Type of system info to retrieve. Use 'all' for a complete overview."
    }
  },
  "required": ["infoType"]
}`),
		},
		{
			Name:        "docker_control",
			Description: "Manage Docker containers: list, start, stop, restart, view logs, inspect, and more.",
			Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {
      "type": "string",
      "enum": ["ps", "list", "running", "stats", "logs", "start", "stop", "restart", "inspect", "images", "volumes", "networks", "compose-ps"],
      "description": "Docker operation to perform"
    },
    "containerName": {
      "type": "string",
      "description": "Container name (required for logs, start, stop, restart, inspect)"
    }
  },
  "required": ["action"]
}`),
		},
		{
			Name:        "service_control",
			Description: "Manage systemd services: check status, start, stop, restart, enable, disable, list, and view logs.",
			Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {
      "type": "string",
      "enum": ["status", "start", "stop", "restart", "enable", "disable", "list", "failed", "logs"],
      "description": "Service operation to perform"
    },
    "serviceName": {
      "type": "string",
      "description": "Service name (required for status, start, stop, restart, enable, disable, logs)"
    }
  },
  "required": ["action"]
}`),
		},
		{
			Name:        "jellyfin_api",
			Description: "Interact with Jellyfin media server: get status, users, sessions, libraries, search media, trigger scans.",
			Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {
      "type": "string",
      "enum": ["status", "info", "health", "users", "sessions", "libraries", "items", "scan", "refresh", "activity", "scheduled-tasks", "search", "playing", "logs"],
      "description": "Jellyfin API operation to perform"
    },
    "params": {
      "type": "string",
      "description": "Optional JSON string with additional parameters (e.g., for search: {\"query\": \"movie name\"})"
    }
  },
  "required": ["action"]
}`),
		},
		{
			Name:        "ssh_command",
			Description: "Execute an SSH command with sudo privileges on the server. Use with caution.",
			Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "command": {
      "type": "string",
      "description": "The command to execute (without sudo prefix, it will be added automatically)"
    }
  },
  "required": ["command"]
}`),
		},
		{
			Name:        "gemini_cli",
			Description: "Execute a query using the Gemini CLI on the server. Useful for AI-powered analysis of logs, code, or data.",
			Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "prompt": { "type": "string", "description": "The prompt/query to send to Gemini" }
  },
  "required": ["prompt"]
}`),
		},
	}
	return append(defs, workflowDefinitions()...)
}

func workflowDefinitions() []Definition {
	workflowID := func(desc string) string {
		return `"workflowId": {"type": "string", "description": "` + desc + `"}`
	}
	object := func(props string, required ...string) json.RawMessage {
		req, _ := json.Marshal(required)
		if required == nil {
			req = []byte("[]")
		}
		return json.RawMessage(`{"type": "object", "properties": {` + props + `}, "required": ` + string(req) + `}`)
	}

	return []Definition{
		{
			Name:        "n8n_workflow_list",
			Description: "List all n8n workflows",
			Parameters:  object(`"activeOnly": {"type": "boolean", "description": "Filter to only active workflows"}`),
		},
		{
			Name:        "n8n_workflow_get",
			Description: "Get details of a specific n8n workflow",
			Parameters:  object(workflowID("The workflow ID to retrieve"), "workflowId"),
		},
		{
			Name:        "n8n_workflow_create",
			Description: "Create a new n8n workflow from JSON definition",
			Parameters: object(`"workflowJson": {"type": "object", "description": "Complete workflow definition with name, nodes, connections, settings"}`,
				"workflowJson"),
		},
		{
			Name:        "n8n_workflow_update",
			Description: "Update an existing n8n workflow",
			Parameters:  object(`"workflowId": {"type": "string"}, "workflowJson": {"type": "object"}`, "workflowId", "workflowJson"),
		},
		{
			Name:        "n8n_workflow_delete",
			Description: "Delete an n8n workflow",
			Parameters:  object(workflowID("The workflow ID to delete"), "workflowId"),
		},
		{
			Name:        "n8n_workflow_activate",
			Description: "Activate an n8n workflow",
			Parameters:  object(workflowID("The workflow ID to activate"), "workflowId"),
		},
		{
			Name:        "n8n_workflow_deactivate",
			Description: "Deactivate an n8n workflow",
			Parameters:  object(workflowID("The workflow ID to deactivate"), "workflowId"),
		},
		{
			Name:        "n8n_workflow_execute",
			Description: "Execute an n8n workflow manually",
			Parameters: object(`"workflowId": {"type": "string"}, "inputData": {"type": "object", "description": "Optional input data for the workflow"}`,
				"workflowId"),
		},
	}
}
