// Package vhost maps request hosts and application names to WHIP tenants
// using a YAML virtual host file.
//
//	virtual_hosts:
//	  - name: default
//	    domains: ["live.example.com", "*.edge.example.com"]
//	    applications:
//	      - name: app
//	        cross_domains: ["https://studio.example.com"]
//
// A domain of "*" catches every host no other virtual host claims; an
// application named "*" accepts any application path segment.
package vhost

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Amirjanbakhshi/OvenMediaEngine/internal/whip"
)

const anyName = "*"

var ErrNoVirtualHosts = errors.New("vhost: no virtual hosts configured")

type Application struct {
	Name         string   `mapstructure:"name"`
	CrossDomains []string `mapstructure:"cross_domains"`
}

type VirtualHost struct {
	Name         string        `mapstructure:"name"`
	Domains      []string      `mapstructure:"domains"`
	Applications []Application `mapstructure:"applications"`
}

// File is the decoded virtual host file.
type File struct {
	VirtualHosts []VirtualHost `mapstructure:"virtual_hosts"`
}

// Validate checks names and domains and reports the first problem found.
func (f File) Validate() error {
	if len(f.VirtualHosts) == 0 {
		return ErrNoVirtualHosts
	}

	vhosts := make(map[string]struct{}, len(f.VirtualHosts))
	domains := make(map[string]string)
	for i, vh := range f.VirtualHosts {
		if err := validName(vh.Name); err != nil {
			return fmt.Errorf("vhost: virtual_hosts[%d]: %w", i, err)
		}
		if _, dup := vhosts[vh.Name]; dup {
			return fmt.Errorf("vhost: duplicate virtual host %q", vh.Name)
		}
		vhosts[vh.Name] = struct{}{}

		if len(vh.Domains) == 0 {
			return fmt.Errorf("vhost: virtual host %q has no domains", vh.Name)
		}
		for _, raw := range vh.Domains {
			d, err := normalizeDomain(raw)
			if err != nil {
				return fmt.Errorf("vhost: virtual host %q: %w", vh.Name, err)
			}
			if owner, dup := domains[d]; dup {
				return fmt.Errorf("vhost: domain %q claimed by %q and %q", d, owner, vh.Name)
			}
			domains[d] = vh.Name
		}

		apps := make(map[string]struct{}, len(vh.Applications))
		for j, app := range vh.Applications {
			if err := validName(app.Name); err != nil {
				return fmt.Errorf("vhost: virtual host %q applications[%d]: %w", vh.Name, j, err)
			}
			if strings.Contains(app.Name, "/") {
				return fmt.Errorf("vhost: virtual host %q: application name %q contains '/'", vh.Name, app.Name)
			}
			if _, dup := apps[app.Name]; dup {
				return fmt.Errorf("vhost: virtual host %q: duplicate application %q", vh.Name, app.Name)
			}
			apps[app.Name] = struct{}{}
		}
	}
	return nil
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name is empty")
	}
	if strings.Contains(name, "#") {
		return fmt.Errorf("name %q contains '#'", name)
	}
	return nil
}

func normalizeDomain(raw string) (string, error) {
	d := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), ".")
	switch {
	case d == "":
		return "", errors.New("empty domain")
	case d == anyName:
		return d, nil
	case strings.HasPrefix(d, "*."):
		if len(d) == 2 || strings.Contains(d[2:], "*") {
			return "", fmt.Errorf("invalid wildcard domain %q", raw)
		}
		return d, nil
	case strings.Contains(d, "*"):
		return "", fmt.Errorf("invalid domain %q: '*' is only allowed as a leading label", raw)
	}
	return d, nil
}

// index is the lookup form of a validated File.
type index struct {
	exact    map[string]*VirtualHost
	wildcard []wildcardDomain // longest suffix first
	fallback *VirtualHost
}

type wildcardDomain struct {
	suffix string // ".example.com"
	vhost  *VirtualHost
}

func buildIndex(f *File) index {
	idx := index{exact: make(map[string]*VirtualHost)}
	for i := range f.VirtualHosts {
		vh := &f.VirtualHosts[i]
		for _, raw := range vh.Domains {
			d, _ := normalizeDomain(raw)
			switch {
			case d == anyName:
				idx.fallback = vh
			case strings.HasPrefix(d, "*."):
				idx.wildcard = append(idx.wildcard, wildcardDomain{suffix: d[1:], vhost: vh})
			default:
				idx.exact[d] = vh
			}
		}
	}
	sort.SliceStable(idx.wildcard, func(i, j int) bool {
		return len(idx.wildcard[i].suffix) > len(idx.wildcard[j].suffix)
	})
	return idx
}

func (idx index) lookup(hostname string) *VirtualHost {
	if vh, ok := idx.exact[hostname]; ok {
		return vh
	}
	for _, w := range idx.wildcard {
		if len(hostname) > len(w.suffix) && strings.HasSuffix(hostname, w.suffix) {
			return w.vhost
		}
	}
	return idx.fallback
}

// CorsTarget receives per-tenant cross-origin policies.
type CorsTarget interface {
	SetCors(tenant string, origins []string)
	EraseCors(tenant string)
}

// Registry resolves tenants against the current virtual host file. It is safe
// for concurrent use; reloads swap the whole configuration.
type Registry struct {
	log  *slog.Logger
	path string

	// reloadMu orders Reload and file-change reloads. v belongs to the file
	// watcher once Watch is called; Reload reads through a fresh instance.
	reloadMu sync.Mutex
	v        *viper.Viper

	mu      sync.RWMutex
	file    File
	idx     index
	applied map[string]struct{}
}

// Default returns a registry with one virtual host accepting every host and
// application, without cross-origin policies.
func Default(logger *slog.Logger) *Registry {
	r := newRegistry(logger)
	r.set(File{VirtualHosts: []VirtualHost{{
		Name:         "default",
		Domains:      []string{anyName},
		Applications: []Application{{Name: anyName}},
	}}})
	return r
}

// Load reads and validates the virtual host file at path.
func Load(path string, logger *slog.Logger) (*Registry, error) {
	r := newRegistry(logger)
	r.path = path
	v, f, err := r.read()
	if err != nil {
		return nil, err
	}
	r.v = v
	r.set(f)
	return r, nil
}

func (r *Registry) read() (*viper.Viper, File, error) {
	v := viper.NewWithOptions(viper.WithLogger(r.log))
	v.SetConfigFile(r.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, File{}, fmt.Errorf("vhost: read %s: %w", r.path, err)
	}
	f, err := r.decode(v)
	if err != nil {
		return nil, File{}, err
	}
	return v, f, nil
}

func newRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		log:     logger.With("component", "vhost"),
		applied: make(map[string]struct{}),
	}
}

func (r *Registry) decode(v *viper.Viper) (File, error) {
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return File{}, fmt.Errorf("vhost: decode %s: %w", r.path, err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func (r *Registry) set(f File) {
	idx := buildIndex(&f)
	r.mu.Lock()
	r.file = f
	r.idx = idx
	r.mu.Unlock()
}

// Reload re-reads the file. An unreadable or invalid file leaves the current
// configuration in place.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	_, f, err := r.read()
	if err != nil {
		return err
	}
	r.set(f)
	r.log.Info("virtual hosts reloaded", "path", r.path, "virtual_hosts", len(f.VirtualHosts))
	return nil
}

// Watch reloads the file whenever it changes on disk and calls onChange with
// the outcome. It does nothing for a registry built by Default. The watch
// lasts for the life of the process.
func (r *Registry) Watch(onChange func(error)) {
	if r.v == nil {
		return
	}
	v := r.v
	v.OnConfigChange(func(e fsnotify.Event) {
		r.log.Debug("virtual host file changed", "path", e.Name, "op", e.Op.String())
		// v has already re-read the file on the watcher goroutine.
		r.reloadMu.Lock()
		f, err := r.decode(v)
		if err == nil {
			r.set(f)
		}
		r.reloadMu.Unlock()

		if err == nil {
			r.log.Info("virtual hosts reloaded", "path", r.path, "virtual_hosts", len(f.VirtualHosts))
		} else {
			r.log.Warn("keeping previous virtual hosts", "path", r.path, "err", err)
		}
		if onChange != nil {
			onChange(err)
		}
	})
	v.WatchConfig()
}

// ResolveTenant matches host against the virtual host domains (exact, then
// the longest wildcard, then "*") and app against that host's applications.
func (r *Registry) ResolveTenant(host, app string) (whip.Tenant, bool) {
	if app == "" {
		return whip.Tenant{}, false
	}
	hostname := normalizeHost(host)

	r.mu.RLock()
	defer r.mu.RUnlock()

	vh := r.idx.lookup(hostname)
	if vh == nil {
		return whip.Tenant{}, false
	}
	var wildcard bool
	for _, a := range vh.Applications {
		if a.Name == app {
			return whip.Tenant{VHost: vh.Name, App: a.Name}, true
		}
		wildcard = wildcard || a.Name == anyName
	}
	if wildcard {
		return whip.Tenant{VHost: vh.Name, App: anyName}, true
	}
	return whip.Tenant{}, false
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

// Apply pushes every application's cross_domains to target and erases the
// tenants that were applied before but no longer exist.
func (r *Registry) Apply(target CorsTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := make(map[string]struct{})
	for _, vh := range r.file.VirtualHosts {
		for _, app := range vh.Applications {
			key := whip.Tenant{VHost: vh.Name, App: app.Name}.Key()
			current[key] = struct{}{}
			target.SetCors(key, app.CrossDomains)
		}
	}
	for key := range r.applied {
		if _, ok := current[key]; !ok {
			target.EraseCors(key)
		}
	}
	r.applied = current
}

// VirtualHosts returns a copy of the current configuration.
func (r *Registry) VirtualHosts() []VirtualHost {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]VirtualHost, len(r.file.VirtualHosts))
	for i, vh := range r.file.VirtualHosts {
		out[i] = VirtualHost{
			Name:         vh.Name,
			Domains:      append([]string(nil), vh.Domains...),
			Applications: make([]Application, len(vh.Applications)),
		}
		for j, app := range vh.Applications {
			out[i].Applications[j] = Application{Name: app.Name, CrossDomains: append([]string(nil), app.CrossDomains...)}
		}
	}
	return out
}
