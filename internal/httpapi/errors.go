package httpapi

import "github.com/nexus-core/nexus/internal/nexuserr"

func notFoundErr(kind, id string) error {
	return nexuserr.New(nexuserr.KindNotFound, kind+" not found: "+id)
}
