package transformations

// NormalizePath canonicalizes a path at the byte level: separator runs collapse, self-references
// disappear, and back-references pop a prior segment without ever climbing above the root.
// A relative path whose back-references hit the root keeps them literally. The presence of a
// leading and trailing separator is preserved from the input. With win set, backslashes count
// as separators too and are rewritten to forward slashes. Output is never longer than the input.
func NormalizePath(s string, win bool) string {
	if len(s) == 0 {
		return s
	}

	input := []byte(s)
	end := len(input) - 1
	var src, dst int
	relative := !(input[0] == '/' || (win && input[0] == '\\'))
	trailing := input[end] == '/' || (win && input[end] == '\\')
	hitroot := false
	done := false

	for !done && src <= end && dst <= end {
		skipCopy := false

		// Convert backslash to forward slash on Windows only.
		if win {
			if input[src] == '\\' {
				input[src] = '/'
			}
			if src < end && input[src+1] == '\\' {
				input[src+1] = '/'
			}
		}

		// Normalization only happens at the end of a path segment. Mid-segment bytes just copy through.
		atSegmentEnd := false
		if src == end {
			done = true
			atSegmentEnd = true
		} else if input[src+1] == '/' {
			atSegmentEnd = true
		}

		if atSegmentEnd {
			if src != end && input[src] == '/' {
				// Empty path segment. The copy step collapses separator runs.
			} else if input[src] == '.' {
				if dst > 0 && input[dst-1] == '.' {
					// Back-reference.
					if relative && (hitroot || dst-2 <= 0) {
						// A relative path that already hit the root keeps the ".." literally.
						hitroot = true
					} else {
						// Remove the back-reference and the previous path segment.
						dst -= 3
						for dst > 0 && input[dst] != '/' {
							dst--
						}

						// But do not allow going above the root.
						if dst <= 0 {
							hitroot = true
							dst = 0

							// Keep the root slash if this is an absolute path ending on a back-reference.
							if !relative && src == end {
								dst++
							}
						}

						if done {
							skipCopy = true
						} else {
							src++
						}
					}
				} else if dst == 0 {
					// Relative self-reference.
					if done {
						skipCopy = true
					} else {
						src++
					}
				} else if input[dst-1] == '/' {
					// Self-reference.
					if done {
						skipCopy = true
					} else {
						dst--
						src++
					}
				}
			} else {
				// A regular path segment ends here.
				hitroot = false
			}
		}

		if !skipCopy {
			if input[src] == '/' {
				// Skip to the last separator when multiple are used.
				for src < end && (input[src+1] == '/' || (win && input[src+1] == '\\')) {
					src++
				}

				// A relative path never starts with a separator; move over it to the next segment.
				if relative && dst == 0 {
					src++
					skipCopy = true
				}
			}

			if !skipCopy {
				input[dst] = input[src]
				dst++
				src++
			}
		}
	}

	// No trailing separator in the normalized form if there was none in the original form.
	// The root separator of an absolute path stays.
	if !trailing && dst > 1 && input[dst-1] == '/' {
		dst--
	}

	return string(input[:dst])
}
