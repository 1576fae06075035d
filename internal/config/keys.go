package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type field struct {
	key    string
	ns     string // struct namespace below Global, as reported by the validator
	secret bool
	get    func(*Global) string
	set    func(*Global, string) error
}

func str(p func(*Global) *string) (func(*Global) string, func(*Global, string) error) {
	return func(c *Global) string { return *p(c) },
		func(c *Global, v string) error { *p(c) = v; return nil }
}

func num(key string, p func(*Global) *int) (func(*Global) string, func(*Global, string) error) {
	return func(c *Global) string { return strconv.Itoa(*p(c)) },
		func(c *Global, v string) error {
			i, err := strconv.Atoi(v)
			if err != nil || i < 0 {
				return fmt.Errorf("invalid non-negative int for %s: %q", key, v)
			}
			*p(c) = i
			return nil
		}
}

func flag(key string, p func(*Global) *bool) (func(*Global) string, func(*Global, string) error) {
	return func(c *Global) string { return strconv.FormatBool(*p(c)) },
		func(c *Global, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid bool for %s: %q", key, v)
			}
			*p(c) = b
			return nil
		}
}

func lower(set func(*Global, string) error) func(*Global, string) error {
	return func(c *Global, v string) error { return set(c, strings.ToLower(strings.TrimSpace(v))) }
}

var fields = func() []field {
	mk := func(key, ns string, secret bool, get func(*Global) string, set func(*Global, string) error) field {
		return field{key: key, ns: ns, secret: secret, get: get, set: set}
	}
	var out []field
	add := func(key, ns string, get func(*Global) string, set func(*Global, string) error) {
		out = append(out, mk(key, ns, false, get, set))
	}

	g, s := str(func(c *Global) *string { return &c.Server.Addr })
	add("server.addr", "Server.Addr", g, s)
	g, s = num("server.read_timeout_sec", func(c *Global) *int { return &c.Server.ReadTimeoutSec })
	add("server.read_timeout_sec", "Server.ReadTimeoutSec", g, s)
	g, s = num("server.write_timeout_sec", func(c *Global) *int { return &c.Server.WriteTimeoutSec })
	add("server.write_timeout_sec", "Server.WriteTimeoutSec", g, s)
	g, s = num("server.max_upload_mb", func(c *Global) *int { return &c.Server.MaxUploadMB })
	add("server.max_upload_mb", "Server.MaxUploadMB", g, s)
	g, s = str(func(c *Global) *string { return &c.Server.BasicAuthUser })
	add("server.basic_auth_user", "Server.BasicAuthUser", g, s)
	g, s = str(func(c *Global) *string { return &c.Server.BasicAuthPassword })
	out = append(out, mk("server.basic_auth_password", "Server.BasicAuthPassword", true, g, s))

	g, s = str(func(c *Global) *string { return &c.Store.Driver })
	add("store.driver", "Store.Driver", g, lower(s))
	g, s = str(func(c *Global) *string { return &c.Store.SQLitePath })
	add("store.sqlite_path", "Store.SQLitePath", g, s)
	g, s = str(func(c *Global) *string { return &c.Store.PostgresDSN })
	out = append(out, mk("store.postgres_dsn", "Store.PostgresDSN", true, g, s))

	g, s = str(func(c *Global) *string { return &c.Blob.Driver })
	add("blob.driver", "Blob.Driver", g, lower(s))
	g, s = str(func(c *Global) *string { return &c.Blob.FSRoot })
	add("blob.fs_root", "Blob.FSRoot", g, s)
	g, s = str(func(c *Global) *string { return &c.Blob.S3Bucket })
	add("blob.s3_bucket", "Blob.S3Bucket", g, s)
	g, s = str(func(c *Global) *string { return &c.Blob.S3Region })
	add("blob.s3_region", "Blob.S3Region", g, s)
	g, s = str(func(c *Global) *string { return &c.Blob.S3Endpoint })
	add("blob.s3_endpoint", "Blob.S3Endpoint", g, s)
	g, s = flag("blob.s3_path_style", func(c *Global) *bool { return &c.Blob.S3PathStyle })
	add("blob.s3_path_style", "Blob.S3PathStyle", g, s)

	g, s = num("history.limit", func(c *Global) *int { return &c.History.Limit })
	add("history.limit", "History.Limit", g, s)
	g, s = flag("report.compress", func(c *Global) *bool { return &c.Report.Compress })
	add("report.compress", "Report.Compress", g, s)
	g, s = str(func(c *Global) *string { return &c.Log.Level })
	add("log.level", "Log.Level", g, lower(s))
	g, s = str(func(c *Global) *string { return &c.Log.Format })
	add("log.format", "Log.Format", g, lower(s))
	return out
}()

func lookup(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

// Keys lists every settable key in display order.
func Keys() []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.key
	}
	return out
}

// IsSecret reports whether key holds a credential that should be masked on display.
func IsSecret(key string) bool {
	f, ok := lookup(key)
	return ok && f.secret
}

// Get returns the string form of key.
func (c *Global) Get(key string) (string, error) {
	f, ok := lookup(key)
	if !ok {
		return "", unknownKey(key)
	}
	return f.get(c), nil
}

// Set parses value into key.
func (c *Global) Set(key, value string) error {
	f, ok := lookup(key)
	if !ok {
		return unknownKey(key)
	}
	return f.set(c, value)
}

func unknownKey(key string) error {
	keys := Keys()
	sort.Strings(keys)
	return fmt.Errorf("unknown key: %s (known: %s)", key, strings.Join(keys, ", "))
}

func keyForNamespace(ns string) string {
	ns = strings.TrimPrefix(ns, "Global.")
	for _, f := range fields {
		if f.ns == ns {
			return f.key
		}
	}
	return ns
}
