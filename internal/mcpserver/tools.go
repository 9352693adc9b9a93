package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Callwarden MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolClassifyTranscript = mcp.NewTool("classify_transcript",
	mcp.WithDescription(
		"Analyze a call transcript for fraud risk. "+
			"Returns a Safe/Suspicious/Scam verdict with a 0-1 risk score, confidence, "+
			"matched fraud indicators, and a recommended action. "+
			"Use this for one-shot analysis of a complete or partial transcript."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("The call transcript text to analyze")),
)

var ToolStartSession = mcp.NewTool("start_monitoring_session",
	mcp.WithDescription(
		"Start real-time fraud monitoring for a live call. "+
			"Returns a session ID to use with ingest_segment and end_session_report. "+
			"Alerts fire automatically as risky content appears in the transcript."),
	mcp.WithString("session_id",
		mcp.Description("Optional caller-supplied session ID (e.g. an upstream call ID). Generated if omitted.")),
)

var ToolIngestSegment = mcp.NewTool("ingest_segment",
	mcp.WithDescription(
		"Feed a transcript segment into an active monitoring session. "+
			"Segments accumulate into the session transcript; each one is triaged for "+
			"fraud keywords and the full context is re-scored as the call progresses."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The monitoring session ID from start_monitoring_session")),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("The transcribed speech segment")),
	mcp.WithNumber("confidence",
		mcp.Description("Transcription confidence from the speech recognizer (0-1)")),
)

var ToolEndSessionReport = mcp.NewTool("end_session_report",
	mcp.WithDescription(
		"Stop monitoring a call and get the final fraud report: overall risk level "+
			"and score, alert counts by severity, the top fraud indicators observed, "+
			"and recommended follow-up actions."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The monitoring session ID to end")),
)

var ToolGetSession = mcp.NewTool("get_session",
	mcp.WithDescription(
		"Get a snapshot of an active monitoring session: accumulated transcript, "+
			"current risk level and score, and alerts raised so far."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The monitoring session ID")),
)

var ToolListSessions = mcp.NewTool("list_sessions",
	mcp.WithDescription(
		"List all calls currently being monitored, with their risk levels and alert counts."),
)

var ToolRecentAlerts = mcp.NewTool("recent_alerts",
	mcp.WithDescription(
		"Retrieve the most recent fraud alerts across all sessions from the audit trail."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of alerts to return (default 20)")),
)
