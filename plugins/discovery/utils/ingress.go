package utils

import (
	"fmt"

	"github.com/consentry/consentry/pkg/models"
	networkingv1 "k8s.io/api/networking/v1"
)

// RuleHosts returns the non-empty rule hosts of an ingress.
func RuleHosts(ingress *networkingv1.Ingress) []string {
	hosts := make([]string, 0, len(ingress.Spec.Rules))
	for _, rule := range ingress.Spec.Rules {
		if rule.Host != "" {
			hosts = append(hosts, rule.Host)
		}
	}
	return hosts
}

// SchemeFor returns https when the host is covered by a TLS block. A
// TLS entry without hosts covers every rule via the default cert.
func SchemeFor(ingress *networkingv1.Ingress, host string) string {
	for _, tls := range ingress.Spec.TLS {
		if len(tls.Hosts) == 0 {
			return "https"
		}
		for _, tlsHost := range tls.Hosts {
			if tlsHost == host {
				return "https"
			}
		}
	}
	return "http"
}

// ScanTargets renders one scan target per rule host.
func ScanTargets(ingress *networkingv1.Ingress, discoveryName string) []models.ScanTarget {
	hosts := RuleHosts(ingress)
	targets := make([]models.ScanTarget, 0, len(hosts))
	for _, host := range hosts {
		targets = append(targets, models.ScanTarget{
			DiscoveryName: discoveryName,
			Name:          ingress.Name,
			Namespace:     ingress.Namespace,
			Host:          host,
			URL:           fmt.Sprintf("%s://%s", SchemeFor(ingress, host), host),
		})
	}
	return targets
}
