// Package app contains the core application logic. It defines the App
// struct, its layered configuration, and the lifecycle of each command,
// decoupled from any specific entrypoint like a CLI or server.
package app
