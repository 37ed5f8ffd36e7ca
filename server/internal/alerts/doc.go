// Package alerts turns audit events into operator notifications. The Engine
// subscribes to the audit emitter, evaluates rules against each event and
// delivers webhooks to Teams, Slack, PagerDuty, or generic HTTP targets.
package alerts
