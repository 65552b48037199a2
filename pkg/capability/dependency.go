package capability

// ActiveArguments returns, in declaration order, the arguments of d that are
// relevant given the collected values. An argument whose controller has not
// been collected yet is inactive. The result depends only on its inputs.
func ActiveArguments(d Descriptor, collected Values) []Argument {
	active := make([]Argument, 0, len(d.Arguments))
	for _, a := range d.Arguments {
		if dependencyHolds(a.DependsOn, collected) {
			active = append(active, a)
		}
	}
	return active
}

// ActiveNames is ActiveArguments reduced to names.
func ActiveNames(d Descriptor, collected Values) []string {
	args := ActiveArguments(d, collected)
	names := make([]string, len(args))
	for i, a := range args {
		names[i] = a.Name
	}
	return names
}

func dependencyHolds(dep Dependency, collected Values) bool {
	for controller, allowed := range dep {
		v, ok := collected[controller]
		if !ok {
			return false
		}
		match := false
		for _, want := range allowed {
			if v.Equal(want) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}
