// Package forwarder delivers messages typed in the browser to their agent.
//
// Agents with a Chatwoot inbox identifier go through Forward: the message is
// posted into the contact's conversation, creating one when needed, and the
// conversation id comes back so the browser can open its stream. Other
// agents go through Passthrough, which re-posts the form to the agent's
// webhook and hands the response back to be streamed verbatim.
package forwarder
