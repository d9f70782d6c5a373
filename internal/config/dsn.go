package config

import (
	"net"
	neturl "net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DSNValue returns the MySQL DSN. It is empty when neither a DSN nor a host
// is configured, which selects the in-memory document store.
func (c DatabaseRuntimeConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return ""
	}
	port := c.Port
	if port == 0 {
		port = defaultDBPort
	}

	mc := mysql.NewConfig()
	mc.User = strings.TrimSpace(c.User)
	if mc.User == "" {
		mc.User = defaultDBUser
	}
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.DBName = strings.TrimSpace(c.Name)
	if mc.DBName == "" {
		mc.DBName = defaultDBName
	}
	mc.ParseTime = c.ParseTime

	loc := strings.TrimSpace(c.Loc)
	if loc == "" {
		loc = defaultDBLoc
	}
	if tz, err := time.LoadLocation(loc); err == nil {
		mc.Loc = tz
	}

	params := map[string]string{}
	for k, v := range c.Params {
		params[k] = v
	}
	if _, ok := params["charset"]; !ok {
		charset := strings.TrimSpace(c.Charset)
		if charset == "" {
			charset = defaultDBCharset
		}
		params["charset"] = charset
	}
	mc.Params = params
	return mc.FormatDSN()
}

// URLValue returns the redis:// URL, or empty when Redis is not configured.
func (c RedisRuntimeConfig) URLValue() string {
	if raw := strings.TrimSpace(c.URL); raw != "" {
		if strings.HasPrefix(raw, "redis://") || strings.HasPrefix(raw, "rediss://") {
			return raw
		}
		return "redis://" + raw
	}
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return ""
	}
	port := c.Port
	if port == 0 {
		port = defaultRedisPort
	}
	scheme := "redis"
	if c.TLS {
		scheme = "rediss"
	}

	u := &neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strconv.Itoa(c.DB),
	}
	username := strings.TrimSpace(c.Username)
	password := strings.TrimSpace(c.Password)
	switch {
	case username != "" && password != "":
		u.User = neturl.UserPassword(username, password)
	case username != "":
		u.User = neturl.User(username)
	case password != "":
		u.User = neturl.UserPassword("", password)
	}
	return u.String()
}
