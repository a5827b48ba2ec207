package ratelimit

import "fmt"

// Bucket keys. Each tier lives in its own namespace so a per-server limit
// can never alias a per-ip limit with a colliding value.

func globalKey() string {
	return "global"
}

func ipKey(ip string) string {
	return "ip:" + ip
}

func serverKey(server string) string {
	return "mcp:" + server
}

func serverToolKey(server, tool string) string {
	return fmt.Sprintf("mcp:%s:tool:%s", server, tool)
}

func providerUserKey(provider, user string) string {
	return fmt.Sprintf("llm:%s:user:%s", provider, user)
}

func providerUserGroupKey(provider, user, group string) string {
	return fmt.Sprintf("llm:%s:user:%s:group:%s", provider, user, group)
}

func modelUserKey(provider, model, user string) string {
	return fmt.Sprintf("llm:%s/%s:user:%s", provider, model, user)
}

func modelUserGroupKey(provider, model, user, group string) string {
	return fmt.Sprintf("llm:%s/%s:user:%s:group:%s", provider, model, user, group)
}
