package imports

import (
	"context"
	"fmt"
	"strings"

	humanize "github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"plastron.evalgo.org/binaries"
	"plastron.evalgo.org/ldp"
	"plastron.evalgo.org/model"
	"plastron.evalgo.org/rdf"
	"plastron.evalgo.org/spreadsheet"
)

// createResource runs the create path inside one transaction: the parent
// resource, its pages and their files, full-text annotations, the proxy
// sequence, item-level files, and the handle. Any error rolls the whole
// unit back.
func (e *Engine) createResource(ctx context.Context, row *spreadsheet.Row, d *model.Description) (string, error) {
	var created string
	err := ldp.WithTransaction(ctx, e.opts.Client, e.opts.KeepAlive, func(tx *ldp.Transaction) error {
		var err error
		created, err = e.buildResource(tx, row, d)
		return err
	})
	if err != nil {
		return "", err
	}
	e.logger.WithField("uri", created).Info("Created resource")
	return created, nil
}

func (e *Engine) buildResource(repo ldp.Repository, row *spreadsheet.Row, d *model.Description) (string, error) {
	created, _, err := repo.CreateInContainer(e.cfg.ContainerPath, "", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create resource: %w", err)
	}
	parent, err := rdf.URI(created)
	if err != nil {
		return "", err
	}
	parentPath := e.opts.Client.RepoPath(created)

	// The description is serialized against the real URI now that the
	// repository has minted one.
	d.URI = created
	desired, err := e.model.Serialize(d)
	if err != nil {
		return "", err
	}
	if e.cfg.AccessClass != "" {
		access, err := rdf.URI(e.cfg.AccessClass)
		if err != nil {
			return "", fmt.Errorf("invalid access class: %w", err)
		}
		desired.Add(rdf.NewTriple(parent, rdf.RDFType, access))
	}
	if e.cfg.MemberOf != "" {
		memberOf, err := rdf.URI(e.cfg.MemberOf)
		if err != nil {
			return "", fmt.Errorf("invalid member_of URI: %w", err)
		}
		desired.Add(rdf.NewTriple(parent, pcdmMemberOf, memberOf))
	}
	if err := repo.PatchGraph(created, nil, desired); err != nil {
		return "", fmt.Errorf("failed to describe resource: %w", err)
	}

	parentInserts := rdf.NewGraph()

	pageURIs, pageLabels, err := e.buildPages(repo, row, parentPath, parent, parentInserts)
	if err != nil {
		return "", err
	}

	if err := e.buildProxies(repo, parentPath, parent, pageURIs, pageLabels, parentInserts); err != nil {
		return "", err
	}

	if err := e.buildItemFiles(repo, row, parentPath, parent, parentInserts); err != nil {
		return "", err
	}

	if row.Publish() {
		if err := e.mintHandle(row, parentPath, parent, parentInserts); err != nil {
			return "", err
		}
		parentInserts.Add(rdf.NewTriple(parent, rdf.RDFType, umdaccessPublished))
	}
	if row.Hidden() {
		parentInserts.Add(rdf.NewTriple(parent, rdf.RDFType, umdaccessHidden))
	}

	if err := repo.PatchGraph(created, nil, parentInserts); err != nil {
		return "", fmt.Errorf("failed to attach structure to resource: %w", err)
	}
	return created, nil
}

// buildPages creates one page per file group under the m/ container, with
// the group's files under each page's f/ container.
func (e *Engine) buildPages(repo ldp.Repository, row *spreadsheet.Row, parentPath string, parent rdf.IRI, parentInserts *rdf.Graph) ([]rdf.IRI, []string, error) {
	var pageURIs []rdf.IRI
	var pageLabels []string
	for i, group := range row.FileGroups() {
		pagePath := fmt.Sprintf("%s/m/%d", parentPath, i+1)
		pageURI := rdf.MustURI(e.opts.Client.URL(pagePath))

		pg := rdf.NewGraph()
		pg.Add(rdf.NewTriple(pageURI, rdf.RDFType, pcdmObject))
		pg.Add(rdf.NewTriple(pageURI, rdf.RDFType, fabioPage))
		pg.Add(rdf.NewTriple(pageURI, dctermsTitle, rdf.NewLiteral(group.Label)))
		pg.Add(rdf.NewTriple(pageURI, pcdmMemberOf, parent))
		if _, _, err := repo.CreateAtPath(pagePath, pg); err != nil {
			return nil, nil, fmt.Errorf("failed to create page %d: %w", i+1, err)
		}
		parentInserts.Add(rdf.NewTriple(parent, pcdmHasMember, pageURI))

		pageInserts := rdf.NewGraph()
		annotations := 0
		for _, spec := range group.Files {
			if _, err := e.attachFile(repo, pagePath, pageURI, spec, pageInserts); err != nil {
				return nil, nil, err
			}

			extracted, err := e.extractText(spec)
			if err != nil {
				// An unreadable source drops only the annotation.
				e.logger.WithField("file", spec.Name).WithError(err).Warn("Skipping text extraction")
				continue
			}
			if extracted != "" {
				annotations++
				if err := e.createAnnotation(repo, pagePath, pageURI, annotations, extracted); err != nil {
					return nil, nil, err
				}
			}
		}
		if err := repo.PatchGraph(pageURI.String(), nil, pageInserts); err != nil {
			return nil, nil, fmt.Errorf("failed to attach files to page %d: %w", i+1, err)
		}

		pageURIs = append(pageURIs, pageURI)
		pageLabels = append(pageLabels, group.Label)
	}
	return pageURIs, pageLabels, nil
}

// attachFile uploads one binary under ownerPath/f and links it to its
// owner.
func (e *Engine) attachFile(repo ldp.Repository, ownerPath string, owner rdf.IRI, spec spreadsheet.FileSpec, ownerInserts *rdf.Graph) (string, error) {
	src, err := binaries.NewSource(e.cfg.BinariesLocation, spec.Name)
	if err != nil {
		return "", err
	}
	defer src.Close()

	size, err := src.Size()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", spec.Name, err)
	}

	created, _, err := repo.CreateBinary(ownerPath+"/f", src)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", spec.Name, err)
	}
	e.logger.WithFields(logrus.Fields{
		"file": spec.Name,
		"size": humanize.Bytes(uint64(size)),
	}).Debug("Uploaded binary")
	fileIRI, err := rdf.URI(created)
	if err != nil {
		return "", err
	}

	fg := rdf.NewGraph()
	fg.Add(rdf.NewTriple(fileIRI, rdf.RDFType, pcdmFile))
	fg.Add(rdf.NewTriple(fileIRI, pcdmFileOf, owner))
	fg.Add(rdf.NewTriple(fileIRI, rdfsLabel, rdf.NewLiteral(spec.Name)))
	for _, usage := range spec.Usage {
		fg.Add(rdf.NewTriple(fileIRI, rdf.RDFType, usageClass(usage)))
	}
	if err := repo.PatchGraph(created, nil, fg); err != nil {
		return "", fmt.Errorf("failed to describe file %s: %w", spec.Name, err)
	}

	ownerInserts.Add(rdf.NewTriple(owner, pcdmHasFile, fileIRI))
	e.counters.Files++
	return created, nil
}

// createAnnotation stores extracted full text under the page's a/
// container, targeting the page.
func (e *Engine) createAnnotation(repo ldp.Repository, pagePath string, pageURI rdf.IRI, n int, text string) error {
	annPath := fmt.Sprintf("%s/a/%d", pagePath, n)
	annURI := rdf.MustURI(e.opts.Client.URL(annPath))

	ag := rdf.NewGraph()
	ag.Add(rdf.NewTriple(annURI, rdf.RDFType, oaAnnotation))
	ag.Add(rdf.NewTriple(annURI, oaHasTarget, pageURI))
	ag.Add(rdf.NewTriple(annURI, oaBodyValue, rdf.NewLiteral(text)))
	if _, _, err := repo.CreateAtPath(annPath, ag); err != nil {
		return fmt.Errorf("failed to create annotation for %s: %w", pageURI, err)
	}
	return nil
}

// buildProxies assembles the ordered proxy sequence under the x/
// container: iana:first and iana:last on the parent, prev/next links
// between consecutive proxies.
func (e *Engine) buildProxies(repo ldp.Repository, parentPath string, parent rdf.IRI, pageURIs []rdf.IRI, pageLabels []string, parentInserts *rdf.Graph) error {
	var prev rdf.IRI
	for i, pageURI := range pageURIs {
		proxyPath := fmt.Sprintf("%s/x/%d", parentPath, i+1)
		proxyURI := rdf.MustURI(e.opts.Client.URL(proxyPath))

		pg := rdf.NewGraph()
		pg.Add(rdf.NewTriple(proxyURI, rdf.RDFType, oreProxy))
		pg.Add(rdf.NewTriple(proxyURI, oreProxyFor, pageURI))
		pg.Add(rdf.NewTriple(proxyURI, oreProxyIn, parent))
		pg.Add(rdf.NewTriple(proxyURI, dctermsTitle, rdf.NewLiteral(pageLabels[i])))
		if i > 0 {
			pg.Add(rdf.NewTriple(proxyURI, ianaPrev, prev))
		}
		if _, _, err := repo.CreateAtPath(proxyPath, pg); err != nil {
			return fmt.Errorf("failed to create proxy %d: %w", i+1, err)
		}

		if i > 0 {
			next := rdf.NewGraph()
			next.Add(rdf.NewTriple(prev, ianaNext, proxyURI))
			if err := repo.PatchGraph(prev.String(), nil, next); err != nil {
				return fmt.Errorf("failed to link proxy %d: %w", i, err)
			}
		}
		if i == 0 {
			parentInserts.Add(rdf.NewTriple(parent, ianaFirst, proxyURI))
		}
		if i == len(pageURIs)-1 {
			parentInserts.Add(rdf.NewTriple(parent, ianaLast, proxyURI))
		}
		prev = proxyURI
	}
	return nil
}

// buildItemFiles attaches item-level files directly to the parent.
func (e *Engine) buildItemFiles(repo ldp.Repository, row *spreadsheet.Row, parentPath string, parent rdf.IRI, parentInserts *rdf.Graph) error {
	for _, spec := range row.ItemFiles() {
		if _, err := e.attachFile(repo, parentPath, parent, spec, parentInserts); err != nil {
			return err
		}
	}
	return nil
}

// mintHandle finds or creates a handle for the new resource and records
// it on the parent.
func (e *Engine) mintHandle(row *spreadsheet.Row, parentPath string, parent rdf.IRI, parentInserts *rdf.Graph) error {
	if e.opts.Handles == nil {
		return nil
	}

	publicURL := e.publicURL(parentPath)
	handle, err := e.opts.Handles.FindHandle(e.opts.HandlePrefix, parentPath)
	if err != nil {
		return fmt.Errorf("failed to look up handle: %w", err)
	}
	if handle == nil {
		handle, err = e.opts.Handles.CreateHandle(e.opts.HandlePrefix, publicURL, parentPath)
		if err != nil {
			return fmt.Errorf("failed to mint handle: %w", err)
		}
	} else if handle.URL != publicURL {
		if _, err := e.opts.Handles.UpdateHandle(*handle, publicURL); err != nil {
			return fmt.Errorf("failed to update handle: %w", err)
		}
	}

	parentInserts.Add(rdf.NewTriple(parent, dctermsIdentifier,
		rdf.NewTypedLiteral("hdl:"+handle.String(), handleDatatype)))
	return nil
}

func (e *Engine) publicURL(repoPath string) string {
	pattern := e.opts.PublicURLPattern
	if pattern == "" {
		return e.opts.Client.URL(repoPath)
	}
	if strings.Contains(pattern, "%s") {
		return fmt.Sprintf(pattern, repoPath)
	}
	return strings.TrimRight(pattern, "/") + repoPath
}
