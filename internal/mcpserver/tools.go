package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the sentinel MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolEvaluateAddress = mcp.NewTool("evaluate_address",
	mcp.WithDescription(
		"Evaluate the risk of an Ethereum address. "+
			"Returns a risk score in [0, 1], a level (low/medium/high/critical), "+
			"and whether the verdict came from the AI model or the rule engine. "+
			"Use this before interacting with an unknown address."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to evaluate (e.g. '0x5aae...')")),
	mcp.WithBoolean("detailed",
		mcp.Description("Include the full explanation payload (risk type, contributing factors)")),
)

var ToolEvaluateTransaction = mcp.NewTool("evaluate_transaction",
	mcp.WithDescription(
		"Evaluate the risk of an Ethereum transaction by its hash. "+
			"Returns a risk score in [0, 1] and a level (low/medium/high/critical)."),
	mcp.WithString("tx_hash",
		mcp.Required(),
		mcp.Description("The transaction hash to evaluate (0x + 64 hex chars)")),
	mcp.WithBoolean("detailed",
		mcp.Description("Include the full explanation payload")),
)

var ToolAnalyzeRelations = mcp.NewTool("analyze_relations",
	mcp.WithDescription(
		"Build the transfer relation graph around an address or transaction. "+
			"Shows counterparties out to the requested depth with per-edge transfer "+
			"volume and frequency. Use this to investigate who a risky address deals with."),
	mcp.WithString("reference",
		mcp.Required(),
		mcp.Description("The center address or transaction hash")),
	mcp.WithString("kind",
		mcp.Description("Target kind: 'address' (default) or 'transaction'"),
		mcp.Enum("address", "transaction")),
	mcp.WithNumber("depth",
		mcp.Description("Traversal depth in hops, 1-5 (default 3)")),
)

var ToolRecentVerdicts = mcp.NewTool("recent_verdicts",
	mcp.WithDescription(
		"List the most recent risk verdicts produced by the engine, newest first. "+
			"Useful for reviewing what has been evaluated and spotting high-risk activity."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of verdicts to return (default 20)")),
)

var ToolWatchAddresses = mcp.NewTool("watch_addresses",
	mcp.WithDescription(
		"Start continuous monitoring of one or more addresses. "+
			"The engine re-evaluates them on an interval and raises alerts when the "+
			"risk score crosses the threshold."),
	mcp.WithString("addresses",
		mcp.Required(),
		mcp.Description("Comma-separated list of addresses to watch")),
	mcp.WithNumber("interval_seconds",
		mcp.Description("Seconds between checks (default 300)")),
	mcp.WithNumber("risk_threshold",
		mcp.Description("Alert when the score reaches this value, 0-1 (default 0.75)")),
)

var ToolListWatches = mcp.NewTool("list_watches",
	mcp.WithDescription(
		"List active monitoring subscriptions with their watched targets, "+
			"check intervals, and alert thresholds."),
)
