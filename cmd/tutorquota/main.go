// Package main is the entry point for tutorquota, the daily usage quota
// service for the tutoring assistant.
package main

func main() {
	Execute()
}
