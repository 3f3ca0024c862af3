package main

//go:generate swag init -g cmd/sipd/main.go -o docs

// @title           SIP Engine API
// @version         0.1.0
// @description     Recurring investment subscriptions, bundle compositions and scheduler controls.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
