// Package services holds the wired forge services.
//
// The daemon builds each service once and hands the HTTP layer a Registry;
// handlers reach the TFS controller, the local project table and the
// invitation store through its accessors.
package services
