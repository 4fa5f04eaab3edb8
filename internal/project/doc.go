// Package project holds forge's local view of team collections and the
// projects inside them.
//
// Projects live on the server. The local table keeps one row per project
// seen through the API so other records (such as invitation requests) can
// reference it by GUID:
//
//   - Get: look up a project by its server GUID
//   - Add: record a project the first time it is seen
//   - List: projects recorded for one collection
//   - DeleteByCollection: forget every project of a removed collection
package project
