// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing conversation histories and
// deterministic timestamps. They are not intended for production usage.
package testutil
