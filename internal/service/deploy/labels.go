package deploy

import (
	"fmt"
	"strconv"
)

// traefikLabels routes host to the container's internal port through the
// web and websecure entrypoints with TLS.
func traefikLabels(name, host string, port uint16) map[string]string {
	router := "traefik.http.routers.voyager-" + name
	service := "voyager-" + name + "-service"

	labels := make(map[string]string, 6)
	labels["traefik.enable"] = "true"
	labels[router+".entrypoints"] = "web,websecure"
	labels[router+".rule"] = fmt.Sprintf("Host(`%s`)", host)
	labels[router+".service"] = service
	labels[router+".tls"] = "true"
	labels["traefik.http.services."+service+".loadbalancer.server.port"] = strconv.Itoa(int(port))
	return labels
}

func imageTag(name string) string {
	return "voyager/" + name + ":latest"
}
