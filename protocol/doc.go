// Package protocol implements the semi-structured text protocol personas use
// to encode routing decisions inside natural-language completions.
//
// A conforming completion contains three fenced blocks, each preceded by a
// header that names the field:
//
//	## Reasoning
//	```
//	why this step was chosen, or null
//	```
//	## Message
//	```
//	text for the next persona (required)
//	```
//	## Recipient
//	```
//	sub-persona name, or null
//	```
//
// Header wording is not load-bearing; only the presence of the words
// "reasoning", "message" and "recipient" (case-insensitive) matters.
package protocol
