package discovery

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// Resolver resolves Kubernetes service names for the backend dialer.
// The relay keys sessions on IPv4 tuples, so IPv4 records win.
type Resolver struct {
	namespace string
}

// NewResolver creates a resolver bound to the Pod's namespace.
func NewResolver() *Resolver {
	// Namespace from Pod metadata (injected by K8s)
	namespace := os.Getenv("POD_NAMESPACE")
	if namespace == "" {
		// Fallback: read from the service account mount
		if data, err := os.ReadFile("/var/run/secrets/kubernetes.io/serviceaccount/namespace"); err == nil {
			namespace = strings.TrimSpace(string(data))
		} else {
			namespace = "default"
		}
	}

	return &Resolver{
		namespace: namespace,
	}
}

// ResolveService resolves a K8s service name to an IPv4 address.
// Format: <service-name> or <service-name>.<namespace>.svc.cluster.local
func (r *Resolver) ResolveService(serviceName string) (string, error) {
	fqdn := r.ServiceDNS(serviceName)

	// Resolve DNS (K8s CoreDNS)
	ips, err := net.LookupIP(fqdn)
	if err != nil {
		// Fallback to short name (same namespace)
		ips, err = net.LookupIP(serviceName)
		if err != nil {
			return "", fmt.Errorf("failed to resolve service %s: %w", serviceName, err)
		}
	}

	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", fmt.Errorf("no IPv4 address found for service %s", serviceName)
}

// ResolveServiceWithPort resolves service and returns address:port
func (r *Resolver) ResolveServiceWithPort(serviceName string, port int) (string, error) {
	ip, err := r.ResolveService(serviceName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", ip, port), nil
}

// ServiceDNS returns the FQDN for a service
func (r *Resolver) ServiceDNS(serviceName string) string {
	if strings.Contains(serviceName, ".") {
		return serviceName
	}
	return fmt.Sprintf("%s.%s.svc.cluster.local", serviceName, r.namespace)
}

// GetPodName returns the current Pod name (from K8s downward API)
func GetPodName() string {
	return os.Getenv("POD_NAME")
}

// GetNodeName returns the current Node name
func GetNodeName() string {
	return os.Getenv("NODE_NAME")
}

// IsRunningInK8s checks if running in Kubernetes
func IsRunningInK8s() bool {
	// Check for K8s service account token
	_, err := os.Stat("/var/run/secrets/kubernetes.io/serviceaccount/token")
	return err == nil
}
