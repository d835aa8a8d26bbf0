// Package callback routes externally delivered OAuth redirect URLs to the
// in-flight authorization attempt awaiting them. The host application wires
// exactly one Router instance into its URL-open handler; flows register a
// state nonce before the authorization URL is opened (eliminating the
// arrival race), while auto-authorizing transports register per server
// handle and are tried last.
package callback
