package jsonrpc

// Operation names used by resource-style methods such as "todos/list".
const (
	OpList   = "list"
	OpInsert = "insert"
	OpUpdate = "update"
	OpGet    = "get"
	OpDelete = "delete"
)

// Method joins a resource and an operation. An empty resource yields the bare
// operation.
func Method(resource, op string) string {
	if resource == "" {
		return op
	}
	return resource + "/" + op
}
