package clickhouse

// Statements returns the DDL of an artifact.
func (p *Provisioner) Statements(name string) []string {
	if a, ok := p.artifacts[name]; ok {
		return a.statements
	}
	return nil
}
