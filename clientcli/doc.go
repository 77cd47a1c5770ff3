// Package clientcli implements the client side of the carton HTTP API:
// profile-based configuration, uploads (direct, pre-signed or multipart),
// verified downloads, deletes and bucket listings, plus output formatting
// for the command line client.
package clientcli
